package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// recordRef is the minimal projection used for existence checks.
type recordRef struct {
	ID string `json:"Id"`
}

// FindRecordIDByName queries the given object for a record whose Name matches
// exactly. Returns the empty string when no record is found.
func FindRecordIDByName(ctx context.Context, c Client, object, name string) (string, error) {
	soql := fmt.Sprintf("SELECT Id FROM %s WHERE Name = '%s' LIMIT 1", object, EscapeSOQL(name))

	var result struct {
		Records []recordRef
	}
	if err := c.Query(ctx, soql, &result); err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: find %s by name", object))
	}
	if len(result.Records) == 0 {
		return "", nil
	}
	return result.Records[0].ID, nil
}

// EscapeSOQL escapes backslashes and single quotes for use inside a SOQL
// string literal to prevent injection.
func EscapeSOQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
