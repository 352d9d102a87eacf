package schema

import "fmt"

// CollisionError reports two source names that sanitize to the same
// identifier. Table is empty when the colliding names are sheets.
type CollisionError struct {
	Table      string
	Identifier string
	First      string
	Second     string
}

func (e *CollisionError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("schema: sheets %q and %q both map to table %s", e.First, e.Second, e.Identifier)
	}
	return fmt.Sprintf("schema: table %s: columns %q and %q both map to identifier %q",
		e.Table, e.First, e.Second, e.Identifier)
}
