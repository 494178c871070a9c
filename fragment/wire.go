package fragment

import (
	"encoding/json"

	"github.com/google/uuid"
)

// wireFragment is the JSON shape normative per spec.md §6 ("Fragment
// layout"): {type, uuid, cls?, properties?}. Fragment itself stays a plain
// Go struct for the rest of the package; only the wire boundary needs the
// short field names.
type wireFragment struct {
	Type       Kind           `json:"type"`
	UUID       uuid.UUID      `json:"uuid"`
	Class      string         `json:"cls,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// MarshalJSON implements spec.md §6's fragment layout.
func (f Fragment) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireFragment{
		Type:       f.Kind,
		UUID:       f.UUID,
		Class:      f.Class,
		Properties: f.Properties,
	})
}

// UnmarshalJSON implements spec.md §6's fragment layout.
func (f *Fragment) UnmarshalJSON(b []byte) error {
	var w wireFragment
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	f.Kind = w.Type
	f.UUID = w.UUID
	f.Class = w.Class
	f.Properties = w.Properties
	return nil
}
