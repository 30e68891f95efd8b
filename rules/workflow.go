package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// LambdaExpressionType is the only rule expression type the engine
// executes.
const LambdaExpressionType = "LambdaExpression"

// Rule is one named boolean expression inside a compiled workflow.
type Rule struct {
	RuleName           string `json:"RuleName"`
	SuccessEvent       string `json:"SuccessEvent"`
	RuleExpressionType string `json:"RuleExpressionType"`
	Expression         string `json:"Expression"`
}

// Workflow is the compiled, evaluable form of a promotion version: a
// flat list of named rules over a ctx variable.
type Workflow struct {
	WorkflowName string `json:"WorkflowName"`
	Rules        []Rule `json:"Rules"`
}

// WorkflowName formats the canonical workflow name for a promotion in
// a country.
func WorkflowName(promotionID uuid.UUID, countryISO string) string {
	return fmt.Sprintf("promo:%s:country:%s", promotionID, strings.ToUpper(countryISO))
}

// RuleName formats the canonical rule name for a tier level and group
// order.
func RuleName(tierLevel, groupOrder int) string {
	return fmt.Sprintf("tier:%d:group:%d", tierLevel, groupOrder)
}

// SuccessEvent formats the event emitted when a rule fires.
func SuccessEvent(tierLevel, groupOrder int) string {
	return fmt.Sprintf("%d:%d", tierLevel, groupOrder)
}

// Rule returns the rule with the given name, or false when the
// workflow does not contain it (for instance when its group was
// skipped during compilation).
func (w *Workflow) Rule(name string) (Rule, bool) {
	for _, r := range w.Rules {
		if r.RuleName == name {
			return r, true
		}
	}
	return Rule{}, false
}

// Marshal encodes the workflow to its persisted JSON form.
func (w *Workflow) Marshal() ([]byte, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow: %w", err)
	}
	return data, nil
}

// ParseWorkflow decodes a persisted workflow payload.
func ParseWorkflow(payload []byte) (*Workflow, error) {
	var w Workflow
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	return &w, nil
}

// Hash returns a content hash of the workflow, used to key the
// compiled-program cache.
func (w *Workflow) Hash() string {
	h := sha256.New()
	h.Write([]byte(w.WorkflowName))
	for _, r := range w.Rules {
		h.Write([]byte{0})
		h.Write([]byte(r.RuleName))
		h.Write([]byte{0})
		h.Write([]byte(r.Expression))
	}
	return hex.EncodeToString(h.Sum(nil))
}
