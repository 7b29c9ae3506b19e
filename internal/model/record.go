package model

import "maps"

// Record is one report row as decoded from the platform, plus injected fields.
type Record map[string]any

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// String returns the field as a string when it holds one.
func (r Record) String(key string) (string, bool) {
	v, ok := r[key].(string)
	return v, ok
}
