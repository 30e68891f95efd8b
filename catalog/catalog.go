package catalog

import (
	"strings"

	"github.com/google/uuid"
)

// Catalog is the in-memory lookup service over the attribute and
// operator catalogs. It is immutable after construction and safe for
// concurrent readers.
type Catalog struct {
	attributes map[uuid.UUID]*Attribute
	operators  map[uuid.UUID]*Operator
	opsByCode  map[string]*Operator
}

// New indexes the given catalog rows for lookup.
func New(attributes []*Attribute, operators []*Operator) *Catalog {
	c := &Catalog{
		attributes: make(map[uuid.UUID]*Attribute, len(attributes)),
		operators:  make(map[uuid.UUID]*Operator, len(operators)),
		opsByCode:  make(map[string]*Operator, len(operators)),
	}
	for _, a := range attributes {
		c.attributes[a.ID] = a
	}
	for _, o := range operators {
		c.operators[o.ID] = o
		c.opsByCode[strings.ToLower(o.Code)] = o
	}
	return c
}

// AttributeByID looks up an attribute.
func (c *Catalog) AttributeByID(id uuid.UUID) (*Attribute, bool) {
	a, ok := c.attributes[id]
	return a, ok
}

// OperatorByID looks up an operator.
func (c *Catalog) OperatorByID(id uuid.UUID) (*Operator, bool) {
	o, ok := c.operators[id]
	return o, ok
}

// OperatorByCode looks up an operator by its lowercase code.
func (c *Catalog) OperatorByCode(code string) (*Operator, bool) {
	o, ok := c.opsByCode[strings.ToLower(code)]
	return o, ok
}

// Attributes returns the number of indexed attributes.
func (c *Catalog) Attributes() int {
	return len(c.attributes)
}

// Operators returns the number of indexed operators.
func (c *Catalog) Operators() int {
	return len(c.operators)
}
