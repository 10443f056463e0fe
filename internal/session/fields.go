package session

import (
	"encoding/json"
	"strings"
	"unicode"
)

// NormalizeField returns the comparison key for a field name.
// Case, surrounding space and separator runs (space, underscore, hyphen) are ignored,
// so "Father_Name", " father name " and "father-name" share one key.
func NormalizeField(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return unicode.IsSpace(r) || r == '_' || r == '-'
	})
	return strings.Join(fields, " ")
}

// FieldSet is an insertion-ordered set of field names keyed by NormalizeField.
// Original casing is kept for display.
type FieldSet struct {
	names []string
	keys  map[string]struct{}
}

// NewFieldSet builds a set from names, dropping normalized duplicates.
func NewFieldSet(names ...string) FieldSet {
	var fs FieldSet
	for _, n := range names {
		fs.Add(n)
	}
	return fs
}

// Contains reports whether a normalized match of name is present.
func (fs *FieldSet) Contains(name string) bool {
	if fs.keys == nil {
		return false
	}
	_, ok := fs.keys[NormalizeField(name)]
	return ok
}

// Add inserts name unless a normalized match exists. It reports whether name was added.
func (fs *FieldSet) Add(name string) bool {
	key := NormalizeField(name)
	if key == "" {
		return false
	}
	if fs.keys == nil {
		fs.keys = make(map[string]struct{})
	}
	if _, ok := fs.keys[key]; ok {
		return false
	}
	fs.keys[key] = struct{}{}
	fs.names = append(fs.names, strings.TrimSpace(name))
	return true
}

// Len returns the number of distinct fields.
func (fs *FieldSet) Len() int {
	return len(fs.names)
}

// Names returns the fields in insertion order.
func (fs *FieldSet) Names() []string {
	return append([]string(nil), fs.names...)
}

// Last returns the most recently added field, or "".
func (fs *FieldSet) Last() string {
	if len(fs.names) == 0 {
		return ""
	}
	return fs.names[len(fs.names)-1]
}

// Clone returns an independent copy.
func (fs FieldSet) Clone() FieldSet {
	return NewFieldSet(fs.names...)
}

// MarshalJSON encodes the set as a list of display names.
func (fs FieldSet) MarshalJSON() ([]byte, error) {
	if fs.names == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(fs.names)
}

// UnmarshalJSON decodes a list of names, re-deduplicating on the way in.
func (fs *FieldSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*fs = NewFieldSet(names...)
	return nil
}
