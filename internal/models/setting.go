package models

import (
	"encoding/json"
	"time"
)

// Setting is one persisted key-value entry. Value holds the JSON encoding of
// whatever the client stored.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Decoded returns the stored value, or the raw text if it is not valid JSON
func (s Setting) Decoded() interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(s.Value), &v); err != nil {
		return s.Value
	}
	return v
}
