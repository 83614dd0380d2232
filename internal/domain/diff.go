package domain

import (
	"fmt"
	"sort"
	"strings"
)

// FieldChange records one field's before/after values across a version
// transition.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// FieldDelta maps changed field names to their before/after values.
// An empty delta means the two field sets are identical and no version
// transition is needed.
type FieldDelta map[string]FieldChange

// DiffFields compares two normalized field sets field by field and
// returns the delta. Temporal columns never participate.
func DiffFields(old, incoming AssetFields) FieldDelta {
	delta := FieldDelta{}
	oldMap := old.Map()
	newMap := incoming.Map()
	for _, name := range FieldNames {
		if oldMap[name] != newMap[name] {
			delta[name] = FieldChange{Old: oldMap[name], New: newMap[name]}
		}
	}
	return delta
}

// Fields returns the changed field names, sorted.
func (d FieldDelta) Fields() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary renders a short human-readable description of the delta,
// naming at most five changed fields.
func (d FieldDelta) Summary() string {
	names := d.Fields()
	if len(names) > 5 {
		names = names[:5]
	}
	return fmt.Sprintf("Fields changed: %s", strings.Join(names, ", "))
}

// Truncate shortens a descriptive string for change summaries.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
