package models

// Entity is a monitored service-like object published in a catalog snapshot.
type Entity struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	Type    string   `json:"type,omitempty" yaml:"type"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases"`
}

// Clone returns a deep copy so snapshots never share alias slices with callers.
func (e Entity) Clone() Entity {
	e.Aliases = append([]string(nil), e.Aliases...)
	return e
}

// EntityRef is a reference to an entity carried on an upstream record.
type EntityRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}
