package catalog

import (
	"testing"

	"github.com/google/uuid"
)

func TestParseDataType(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    DataType
		wantErr bool
	}{
		{name: "canonical", in: "Number", want: TypeNumber},
		{name: "lowercase", in: "string", want: TypeString},
		{name: "snake case storage form", in: "string_array", want: TypeStringArray},
		{name: "padded", in: " Bool ", want: TypeBool},
		{name: "guid", in: "guid", want: TypeGuid},
		{name: "unknown", in: "decimal", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDataType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDataType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseDataType(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAttributeContextField(t *testing.T) {
	tests := []struct {
		display string
		want    string
	}{
		{display: "gasto", want: "gasto"},
		{display: "esVip", want: "esVip"},
		{display: "fecha compra", want: "fecha_compra"},
		{display: "club-level", want: "club_level"},
		{display: "total spend-ytd", want: "total_spend_ytd"},
	}

	for _, tt := range tests {
		a := &Attribute{DisplayName: tt.display}
		if got := a.ContextField(); got != tt.want {
			t.Errorf("ContextField(%q) = %q, want %q", tt.display, got, tt.want)
		}
	}
}

func TestCatalogLookups(t *testing.T) {
	attr := &Attribute{ID: uuid.New(), Entity: "contact", Name: "gasto", DisplayName: "gasto", DataType: TypeNumber, Exposed: true}
	op := &Operator{ID: uuid.New(), Code: "gt", DisplayName: "greater than", Active: true, SupportedTypes: []DataType{TypeNumber, TypeDate}}

	c := New([]*Attribute{attr}, []*Operator{op})

	got, ok := c.AttributeByID(attr.ID)
	if !ok || got.Name != "gasto" {
		t.Fatalf("AttributeByID() = %v, %v", got, ok)
	}
	if _, ok := c.AttributeByID(uuid.New()); ok {
		t.Error("AttributeByID() found unknown id")
	}

	if _, ok := c.OperatorByID(op.ID); !ok {
		t.Error("OperatorByID() missed known id")
	}
	if _, ok := c.OperatorByCode("GT"); !ok {
		t.Error("OperatorByCode() should be case-insensitive")
	}

	if !op.Supports(TypeNumber) {
		t.Error("Supports(Number) = false, want true")
	}
	if op.Supports(TypeString) {
		t.Error("Supports(String) = true, want false")
	}
}
