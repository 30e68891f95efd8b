package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tiendalab/promoengine/catalog"
)

type attributeRow struct {
	ID          uuid.UUID `db:"id"`
	EntityName  string    `db:"entity_name"`
	Attribute   string    `db:"attribute_name"`
	DisplayName string    `db:"display_name"`
	DataType    string    `db:"data_type"`
	Exposed     bool      `db:"exposed"`
}

type operatorRow struct {
	ID          uuid.UUID `db:"id"`
	Code        string    `db:"code"`
	DisplayName string    `db:"display_name"`
	Active      bool      `db:"active"`
}

type supportedTypeRow struct {
	OperatorID uuid.UUID `db:"operator_id"`
	DataType   string    `db:"data_type"`
}

// LoadAttributes reads the attribute catalog.
func (s *Store) LoadAttributes(ctx context.Context) ([]*catalog.Attribute, error) {
	var rows []attributeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, entity_name, attribute_name, display_name, data_type, exposed
		 FROM catalog.attribute_catalog
		 ORDER BY entity_name, attribute_name`)
	if err != nil {
		return nil, fmt.Errorf("query attribute catalog: %w", err)
	}
	attrs := make([]*catalog.Attribute, 0, len(rows))
	for _, r := range rows {
		dt, err := catalog.ParseDataType(r.DataType)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", r.ID, err)
		}
		attrs = append(attrs, &catalog.Attribute{
			ID:          r.ID,
			Entity:      r.EntityName,
			Name:        r.Attribute,
			DisplayName: r.DisplayName,
			DataType:    dt,
			Exposed:     r.Exposed,
		})
	}
	return attrs, nil
}

// LoadOperators reads the operator catalog with each operator's
// supported data types attached.
func (s *Store) LoadOperators(ctx context.Context) ([]*catalog.Operator, error) {
	var opRows []operatorRow
	err := s.db.SelectContext(ctx, &opRows,
		`SELECT id, code, display_name, active
		 FROM catalog.operator_catalog
		 ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("query operator catalog: %w", err)
	}

	var typeRows []supportedTypeRow
	err = s.db.SelectContext(ctx, &typeRows,
		`SELECT operator_id, data_type
		 FROM catalog.operator_supported_type
		 ORDER BY operator_id, data_type`)
	if err != nil {
		return nil, fmt.Errorf("query operator supported types: %w", err)
	}

	typesByOp := make(map[uuid.UUID][]catalog.DataType, len(opRows))
	for _, r := range typeRows {
		dt, err := catalog.ParseDataType(r.DataType)
		if err != nil {
			return nil, fmt.Errorf("operator %s: %w", r.OperatorID, err)
		}
		typesByOp[r.OperatorID] = append(typesByOp[r.OperatorID], dt)
	}

	ops := make([]*catalog.Operator, 0, len(opRows))
	for _, r := range opRows {
		ops = append(ops, &catalog.Operator{
			ID:             r.ID,
			Code:           r.Code,
			DisplayName:    r.DisplayName,
			Active:         r.Active,
			SupportedTypes: typesByOp[r.ID],
		})
	}
	return ops, nil
}

// LoadCatalog builds the in-memory catalog from both tables.
func (s *Store) LoadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	attrs, err := s.LoadAttributes(ctx)
	if err != nil {
		return nil, err
	}
	ops, err := s.LoadOperators(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.New(attrs, ops), nil
}
