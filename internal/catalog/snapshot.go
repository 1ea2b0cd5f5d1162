package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/miradorstack/mirador-chatops/internal/models"
)

// Snapshot is an immutable, ordered set of entities. Readers may hold a
// snapshot for as long as they like; refreshes publish a new one.
type Snapshot struct {
	entities []models.Entity
	index    map[string]int
	types    map[string]struct{}
	version  uint64
	loadedAt time.Time
}

// NewSnapshot validates entities and freezes them in insertion order.
// aliases adds extra aliases keyed by entity id or case-insensitive name.
func NewSnapshot(entities []models.Entity, aliases map[string][]string, version uint64, loadedAt time.Time) (*Snapshot, error) {
	byName := make(map[string][]string, len(aliases))
	for key, values := range aliases {
		byName[strings.ToLower(strings.TrimSpace(key))] = values
	}

	s := &Snapshot{
		entities: make([]models.Entity, 0, len(entities)),
		index:    make(map[string]int, len(entities)),
		types:    make(map[string]struct{}),
		version:  version,
		loadedAt: loadedAt,
	}
	for _, entity := range entities {
		id := strings.TrimSpace(entity.ID)
		if id == "" {
			return nil, fmt.Errorf("entity %q has empty id", entity.Name)
		}
		if _, dup := s.index[id]; dup {
			return nil, fmt.Errorf("duplicate entity id %s", id)
		}
		e := entity.Clone()
		e.ID = id
		if strings.TrimSpace(e.Name) == "" {
			e.Name = id
		}
		e.Aliases = mergeAliases(e.Aliases, aliases[id], byName[strings.ToLower(e.Name)])
		if t := strings.ToUpper(strings.TrimSpace(e.Type)); t != "" {
			s.types[t] = struct{}{}
		}
		s.index[id] = len(s.entities)
		s.entities = append(s.entities, e)
	}
	return s, nil
}

// Empty returns a snapshot with no entities.
func Empty() *Snapshot {
	return &Snapshot{index: map[string]int{}}
}

// HasType reports whether any entity carries the given type tag.
func (s *Snapshot) HasType(t string) bool {
	if s == nil || t == "" {
		return false
	}
	_, ok := s.types[strings.ToUpper(t)]
	return ok
}

// Get returns a copy of the entity with the given id.
func (s *Snapshot) Get(id string) (models.Entity, bool) {
	if s == nil {
		return models.Entity{}, false
	}
	i, ok := s.index[id]
	if !ok {
		return models.Entity{}, false
	}
	return s.entities[i].Clone(), true
}

// Contains reports whether id is a live key of this snapshot.
func (s *Snapshot) Contains(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[id]
	return ok
}

// Position returns the insertion order of id, or -1.
func (s *Snapshot) Position(id string) int {
	if s == nil {
		return -1
	}
	if i, ok := s.index[id]; ok {
		return i
	}
	return -1
}

// Entities returns copies of all entities in insertion order.
func (s *Snapshot) Entities() []models.Entity {
	if s == nil {
		return nil
	}
	out := make([]models.Entity, len(s.entities))
	for i, e := range s.entities {
		out[i] = e.Clone()
	}
	return out
}

// Each visits entities in insertion order without copying; fn must not retain
// or modify the alias slice.
func (s *Snapshot) Each(fn func(pos int, e models.Entity)) {
	if s == nil {
		return
	}
	for i, e := range s.entities {
		fn(i, e)
	}
}

// Len returns the number of entities.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entities)
}

// Version is a monotonically increasing publication counter.
func (s *Snapshot) Version() uint64 {
	if s == nil {
		return 0
	}
	return s.version
}

// LoadedAt reports when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

func mergeAliases(groups ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, group := range groups {
		for _, alias := range group {
			alias = strings.TrimSpace(alias)
			key := strings.ToLower(alias)
			if alias == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, alias)
		}
	}
	return out
}
