package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/ringiflow/ringiflow/model"
)

// snapshot is an immutable collection of definitions indexed by id and
// version. Instances pin an exact version, so every loaded version stays
// resolvable; latest is what new instances are created against.
type snapshot struct {
	versions map[string]model.WorkflowDefinition
	latest   map[string]model.WorkflowDefinition
	checksum string
}

func versionKey(id string, version int) string {
	return fmt.Sprintf("%s@%d", id, version)
}

// Registry is a read-optimized, thread-safe store of loaded workflow
// definitions. It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []model.WorkflowDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given definitions.
func (r *Registry) Replace(defs []model.WorkflowDefinition) {
	s := &snapshot{
		versions: make(map[string]model.WorkflowDefinition, len(defs)),
		latest:   make(map[string]model.WorkflowDefinition),
	}

	var checksumParts []string

	for _, def := range defs {
		s.versions[versionKey(def.ID, def.Version)] = def
		checksumParts = append(checksumParts, def.Checksum)

		if cur, ok := s.latest[def.ID]; !ok || def.Version > cur.Version {
			s.latest[def.ID] = def
		}
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns the definition with the given id and exact version.
func (r *Registry) Get(id string, version int) (model.WorkflowDefinition, bool) {
	d, ok := r.current().versions[versionKey(id, version)]
	return d, ok
}

// Latest returns the highest loaded version of the definition.
func (r *Registry) Latest(id string) (model.WorkflowDefinition, bool) {
	d, ok := r.current().latest[id]
	return d, ok
}

// All returns every loaded definition version, ordered by id then version.
func (r *Registry) All() []model.WorkflowDefinition {
	s := r.current()
	defs := make([]model.WorkflowDefinition, 0, len(s.versions))
	for _, d := range s.versions {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].ID != defs[j].ID {
			return defs[i].ID < defs[j].ID
		}
		return defs[i].Version < defs[j].Version
	})
	return defs
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
