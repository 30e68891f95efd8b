// Package catalog holds the attribute and operator catalogs the
// authoring compiler validates draft expressions against. Both catalogs
// are loaded from the store once and served from memory.
package catalog

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DataType classifies the values an attribute can hold.
type DataType string

// Supported attribute data types.
const (
	TypeString      DataType = "String"
	TypeNumber      DataType = "Number"
	TypeDate        DataType = "Date"
	TypeBool        DataType = "Bool"
	TypeGuid        DataType = "Guid"
	TypeStringArray DataType = "StringArray"
	TypeNumberArray DataType = "NumberArray"
)

// ParseDataType normalizes a data type name. It accepts both the
// canonical CamelCase form and snake_case storage forms.
func ParseDataType(s string) (DataType, error) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for _, dt := range []DataType{TypeString, TypeNumber, TypeDate, TypeBool, TypeGuid, TypeStringArray, TypeNumberArray} {
		if normalized == strings.ToLower(string(dt)) {
			return dt, nil
		}
	}
	return "", fmt.Errorf("unknown data type %q", s)
}

// Attribute is one typed field exposed to rule authors.
type Attribute struct {
	ID          uuid.UUID
	Entity      string
	Name        string
	DisplayName string
	DataType    DataType
	Exposed     bool
}

// ContextField returns the field name the compiled expression reads on
// the ctx variable: the canonical display name with spaces and dashes
// normalized to underscores.
func (a *Attribute) ContextField() string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(a.DisplayName)
}
