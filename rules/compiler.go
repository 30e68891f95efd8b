package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tiendalab/promoengine/catalog"
)

// Warning records a non-fatal compilation problem. Groups that cannot
// be lowered are skipped and reported; the rest of the workflow
// compiles.
type Warning struct {
	Scope   string
	Message string
}

func (w Warning) String() string {
	return w.Scope + ": " + w.Message
}

// TierSpec is the compiler's view of one authored tier.
type TierSpec struct {
	TierLevel int
	Order     int
	Groups    []GroupSpec
}

// GroupSpec is the compiler's view of one authored group: its order
// within the tier and the raw expression tree payload.
type GroupSpec struct {
	Order      int
	Expression []byte
}

// Compiler lowers authored expression trees into a workflow of named
// boolean lambda expressions, validating attributes and operators
// against the catalogs.
type Compiler struct {
	catalog *catalog.Catalog
}

// NewCompiler builds a compiler over the given catalogs.
func NewCompiler(cat *catalog.Catalog) *Compiler {
	return &Compiler{catalog: cat}
}

// binaryOps maps operator codes to the comparison symbol used for
// Number, Bool and Date clauses.
var binaryOps = map[string]string{
	catalog.OpGreaterThan:  ">",
	catalog.OpGreaterEqual: ">=",
	catalog.OpLessThan:     "<",
	catalog.OpLessEqual:    "<=",
	catalog.OpEqual:        "==",
	catalog.OpNotEqual:     "!=",
}

// Compile lowers the tiers of a draft into a workflow. Tiers are
// processed by (tier-level, order), groups by order. A group that
// fails to compile is skipped with a warning; the remaining groups
// still produce rules.
func (c *Compiler) Compile(promotionID uuid.UUID, countryISO string, tiers []TierSpec) (*Workflow, []Warning) {
	wf := &Workflow{WorkflowName: WorkflowName(promotionID, countryISO)}
	var warnings []Warning

	ordered := make([]TierSpec, len(tiers))
	copy(ordered, tiers)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].TierLevel != ordered[j].TierLevel {
			return ordered[i].TierLevel < ordered[j].TierLevel
		}
		return ordered[i].Order < ordered[j].Order
	})

	for _, tier := range ordered {
		groups := make([]GroupSpec, len(tier.Groups))
		copy(groups, tier.Groups)
		sort.SliceStable(groups, func(i, j int) bool { return groups[i].Order < groups[j].Order })

		for _, group := range groups {
			scope := RuleName(tier.TierLevel, group.Order)

			if len(group.Expression) == 0 {
				warnings = append(warnings, Warning{Scope: scope, Message: "empty root expression"})
				continue
			}
			root, err := ParseExpression(group.Expression)
			if err != nil {
				warnings = append(warnings, Warning{Scope: scope, Message: err.Error()})
				continue
			}
			expr, err := c.compileNode(root, scope, &warnings)
			if err != nil {
				warnings = append(warnings, Warning{Scope: scope, Message: err.Error()})
				continue
			}
			wf.Rules = append(wf.Rules, Rule{
				RuleName:           scope,
				SuccessEvent:       SuccessEvent(tier.TierLevel, group.Order),
				RuleExpressionType: LambdaExpressionType,
				Expression:         expr,
			})
		}
	}
	return wf, warnings
}

// compileNode lowers one tree node. An error aborts the whole
// containing group.
func (c *Compiler) compileNode(n *Node, scope string, warnings *[]Warning) (string, error) {
	if !n.IsGroup() {
		return c.compileClause(n, scope, warnings)
	}

	children := n.OrderedChildren()
	if len(children) == 0 {
		// An empty group always fires.
		return "true", nil
	}

	op, err := ParseBoolOp(n.BoolOp)
	if err != nil {
		return "", err
	}
	join := " && "
	if op == BoolOr {
		join = " || "
	}

	parts := make([]string, 0, len(children))
	for _, child := range children {
		part, err := c.compileNode(child, scope, warnings)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	// Parentheses around every group keep authored precedence intact.
	return "(" + strings.Join(parts, join) + ")", nil
}

func (c *Compiler) compileClause(n *Node, scope string, warnings *[]Warning) (string, error) {
	if n.AttributeID == nil || n.OperatorID == nil {
		return "", fmt.Errorf("clause is missing attribute or operator")
	}
	attr, ok := c.catalog.AttributeByID(*n.AttributeID)
	if !ok {
		return "", fmt.Errorf("unknown attribute %s", n.AttributeID)
	}
	op, ok := c.catalog.OperatorByID(*n.OperatorID)
	if !ok {
		return "", fmt.Errorf("unknown operator %s", n.OperatorID)
	}
	if !op.Active {
		return "", fmt.Errorf("operator %q is not active", op.Code)
	}

	// The supported-types set is advisory: a gap is reported but the
	// clause still compiles when an expression form exists for the type.
	if !op.Supports(attr.DataType) {
		*warnings = append(*warnings, Warning{
			Scope:   scope,
			Message: fmt.Sprintf("operator %q is not declared for type %s", op.Code, attr.DataType),
		})
	}

	field := attr.ContextField()
	lit := strings.TrimSpace(n.ValueRaw)

	switch attr.DataType {
	case catalog.TypeNumber:
		sym, ok := binaryOps[op.Code]
		if !ok {
			return "", fmt.Errorf("operator %q not supported for type Number", op.Code)
		}
		v, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return "", fmt.Errorf("invalid number literal %q", n.ValueRaw)
		}
		return fmt.Sprintf("ctx.%s %s %s", field, sym, strconv.FormatFloat(v, 'f', -1, 64)), nil

	case catalog.TypeBool:
		sym, ok := binaryOps[op.Code]
		if !ok {
			return "", fmt.Errorf("operator %q not supported for type Bool", op.Code)
		}
		b, err := strconv.ParseBool(strings.ToLower(lit))
		if err != nil {
			return "", fmt.Errorf("invalid boolean literal %q", n.ValueRaw)
		}
		return fmt.Sprintf("ctx.%s %s %s", field, sym, strconv.FormatBool(b)), nil

	case catalog.TypeDate:
		sym, ok := binaryOps[op.Code]
		if !ok {
			return "", fmt.Errorf("operator %q not supported for type Date", op.Code)
		}
		t, err := ParseDateLiteral(lit)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ctx.%s %s timestamp(%s)", field, sym, quoteString(t.UTC().Format(time.RFC3339))), nil

	case catalog.TypeString:
		switch op.Code {
		case catalog.OpEqual:
			return fmt.Sprintf("ctx.%s == %s", field, quoteString(n.ValueRaw)), nil
		case catalog.OpContains:
			return fmt.Sprintf("ctx.%s.contains(%s)", field, quoteString(n.ValueRaw)), nil
		default:
			return "", fmt.Errorf("operator %q not supported for type String", op.Code)
		}

	case catalog.TypeStringArray:
		if op.Code != catalog.OpIn {
			return "", fmt.Errorf("operator %q not supported for type StringArray", op.Code)
		}
		return fmt.Sprintf("%s in ctx.%s", quoteString(n.ValueRaw), field), nil

	default:
		return "", fmt.Errorf("no expression form for type %s", attr.DataType)
	}
}

// quoteString escapes backslashes and double quotes and wraps the
// literal in quotes.
func quoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// ParseDateLiteral parses the date forms rule authors may write:
// RFC3339, a local datetime, or a bare date. The runtime context
// builder uses the same forms so event values and rule literals
// compare consistently.
func ParseDateLiteral(lit string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, lit); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date literal %q", lit)
}
