package salesforce

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// UpdateRecord updates one record of the given object with the given fields.
func UpdateRecord(ctx context.Context, c Client, object, id string, fields map[string]any) error {
	if id == "" {
		return eris.New("sf: record id is required")
	}
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	if err := c.UpdateOne(ctx, object, id, fields); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update %s %s", object, id))
	}
	return nil
}

// CreateRecord creates a new record of the given object and returns the new
// Salesforce ID. Name is required since every delivered record is looked up
// by name on subsequent runs.
func CreateRecord(ctx context.Context, c Client, object string, fields map[string]any) (string, error) {
	if fields["Name"] == nil || fields["Name"] == "" {
		return "", eris.New("sf: record Name is required")
	}
	id, err := c.InsertOne(ctx, object, fields)
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: create %s", object))
	}
	return id, nil
}
