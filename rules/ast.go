// Package rules holds the authored expression tree, the compiled
// workflow and manifest forms, and the compiler that lowers one into
// the other against the attribute/operator catalogs.
package rules

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// BoolOp joins the children of an expression group.
type BoolOp string

// Supported boolean operators.
const (
	BoolAnd BoolOp = "and"
	BoolOr  BoolOp = "or"
)

// ParseBoolOp normalizes a boolean operator name.
func ParseBoolOp(s string) (BoolOp, error) {
	switch BoolOp(strings.ToLower(strings.TrimSpace(s))) {
	case BoolAnd:
		return BoolAnd, nil
	case BoolOr:
		return BoolOr, nil
	default:
		return "", fmt.Errorf("unknown boolean operator %q", s)
	}
}

// Node is one vertex of the authored expression tree: a clause when the
// attribute/operator fields are set, a group when BoolOp or Children is
// set. Children are visited in ascending Order.
type Node struct {
	AttributeID *uuid.UUID `json:"attributeId,omitempty"`
	OperatorID  *uuid.UUID `json:"operatorId,omitempty"`
	ValueRaw    string     `json:"valueRaw,omitempty"`

	BoolOp   string  `json:"boolOp,omitempty"`
	Children []*Node `json:"children,omitempty"`

	Order int `json:"order"`
}

// IsGroup reports whether the node is a nested group.
func (n *Node) IsGroup() bool {
	return n.BoolOp != "" || len(n.Children) > 0
}

// OrderedChildren returns the children sorted by ascending Order.
// Equal orders keep their authored relative position.
func (n *Node) OrderedChildren() []*Node {
	children := make([]*Node, len(n.Children))
	copy(children, n.Children)
	sort.SliceStable(children, func(i, j int) bool {
		return children[i].Order < children[j].Order
	})
	return children
}

// ParseExpression decodes a stored expression payload into its tree.
func ParseExpression(payload []byte) (*Node, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty expression payload")
	}
	var root Node
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("parse expression: %w", err)
	}
	return &root, nil
}
