// Package engine executes compiled workflow rules. It wraps a CEL
// environment behind a small interface so the evaluator treats rule
// execution as a black box.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/interpreter"

	"github.com/tiendalab/promoengine/rules"
)

// ErrRuleNotFound is returned when the workflow does not contain the
// named rule, for instance when its group was skipped at compile time.
var ErrRuleNotFound = errors.New("rule not found in workflow")

// Engine evaluates a named rule from a compiled workflow against an
// event context.
type Engine interface {
	Evaluate(ctx context.Context, wf *rules.Workflow, ruleName string, input map[string]any) (bool, error)
}

// Option configures the CEL engine.
type Option func(*CEL)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *CEL) {
		e.logger = logger
	}
}

// WithRuleTimeout bounds a single rule evaluation. Zero disables the
// per-rule deadline.
func WithRuleTimeout(d time.Duration) Option {
	return func(e *CEL) {
		e.timeout = d
	}
}

// WithCacheCap caps the compiled-workflow cache.
func WithCacheCap(n int) Option {
	return func(e *CEL) {
		e.cacheCap = n
	}
}

// CEL is the Engine implementation backed by cel-go. Compiled
// workflows are cached by content hash so the hot path skips parsing.
type CEL struct {
	env      *cel.Env
	cache    *programCache
	cacheCap int
	timeout  time.Duration
	logger   *slog.Logger
}

// NewCEL builds the engine. Rule expressions read a single variable
// ctx, a map of event fields.
func NewCEL(opts ...Option) (*CEL, error) {
	env, err := cel.NewEnv(
		cel.Variable("ctx", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel environment: %w", err)
	}
	e := &CEL{
		env:      env,
		cacheCap: 128,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = newProgramCache(e.cacheCap)
	return e, nil
}

// ruleActivation resolves the ctx variable for one evaluation.
type ruleActivation struct {
	input map[string]any
}

func (a *ruleActivation) ResolveName(name string) (any, bool) {
	if name == "ctx" {
		return a.input, true
	}
	return nil, false
}

func (a *ruleActivation) Parent() interpreter.Activation {
	return nil
}

// Evaluate runs one named rule. A missing rule returns ErrRuleNotFound;
// evaluation and timeout errors return false with the error so callers
// can treat the rule as non-matching.
func (e *CEL) Evaluate(ctx context.Context, wf *rules.Workflow, ruleName string, input map[string]any) (bool, error) {
	compiled := e.compiledFor(wf)

	rp, ok := compiled.programs[ruleName]
	if !ok {
		return false, ErrRuleNotFound
	}
	if rp.err != nil {
		return false, fmt.Errorf("rule %s: %w", ruleName, rp.err)
	}

	evalCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := evalCtx.Err(); err != nil {
		return false, err
	}

	start := time.Now()
	val, _, err := rp.program.ContextEval(evalCtx, &ruleActivation{input: input})
	elapsed := time.Since(start)
	if err != nil {
		return false, fmt.Errorf("evaluate rule %s: %w", ruleName, err)
	}

	result, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %s did not produce a boolean", ruleName)
	}
	e.logger.Debug("rule evaluated",
		"workflow", wf.WorkflowName,
		"rule", ruleName,
		"result", result,
		"elapsed", elapsed)
	return result, nil
}

// compiledFor returns the cached compiled form of the workflow,
// compiling and caching it on first sight.
func (e *CEL) compiledFor(wf *rules.Workflow) *compiledWorkflow {
	key := wf.Hash()
	if cw := e.cache.get(key); cw != nil {
		return cw
	}
	cw := e.compile(wf)
	e.cache.put(key, cw)
	return cw
}

func (e *CEL) compile(wf *rules.Workflow) *compiledWorkflow {
	cw := &compiledWorkflow{
		name:     wf.WorkflowName,
		programs: make(map[string]rulePrograms, len(wf.Rules)),
	}
	for _, rule := range wf.Rules {
		ast, iss := e.env.Compile(rule.Expression)
		if iss.Err() != nil {
			cw.programs[rule.RuleName] = rulePrograms{err: fmt.Errorf("compile expression: %w", iss.Err())}
			continue
		}
		prg, err := e.env.Program(ast,
			cel.EvalOptions(cel.OptOptimize),
			cel.InterruptCheckFrequency(100),
		)
		if err != nil {
			cw.programs[rule.RuleName] = rulePrograms{err: fmt.Errorf("plan program: %w", err)}
			continue
		}
		cw.programs[rule.RuleName] = rulePrograms{program: prg}
	}
	return cw
}
