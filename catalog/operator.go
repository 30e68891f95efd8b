package catalog

import "github.com/google/uuid"

// Operator codes the compiler knows how to lower.
const (
	OpGreaterThan  = "gt"
	OpGreaterEqual = "gte"
	OpLessThan     = "lt"
	OpLessEqual    = "lte"
	OpEqual        = "eq"
	OpNotEqual     = "neq"
	OpContains     = "contains"
	OpIn           = "in"
)

// Operator is one comparison the rule DSL may use, together with the
// data types it supports.
type Operator struct {
	ID             uuid.UUID
	Code           string
	DisplayName    string
	Active         bool
	SupportedTypes []DataType
}

// Supports reports whether the operator is declared for the data type.
func (o *Operator) Supports(dt DataType) bool {
	for _, t := range o.SupportedTypes {
		if t == dt {
			return true
		}
	}
	return false
}
