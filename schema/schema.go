// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package schema is the declarative description of entities and indexes:
// what record types exist, which fields they carry, and which
// IndexDescriptors are maintained for them. It does not know how
// to maintain an index (that's indexkind) or how to store a record (that's
// datastore); it only holds the shape agreement between the two.
package schema

import (
	"context"
	"fmt"
	"hash/fnv"
	"reflect"
	"sort"
	"sync"

	"github.com/erigontech/reclayer/keyexpr"
	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/rerr"
	"github.com/erigontech/reclayer/tuple"
)

// Registry is a Schema's map from entity name to its type-preserving
// constructor, populated once at schema construction, so type-erased code
// can construct records by entity name alone. The mutex's critical section
// covers only the map lookup; the constructor runs after it is released.
type Registry struct {
	mu        sync.Mutex
	factories map[string]func() any
}

// New constructs an entity of entityName, or (nil, false) if entityName
// carries no constructor.
func (r *Registry) New(entityName string) (any, bool) {
	r.mu.Lock()
	f, ok := r.factories[entityName]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return f(), true
}

// Version is a semantic major.minor.patch schema version.
type Version struct {
	Major, Minor, Patch int
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return sign(v.Major - o.Major)
	case v.Minor != o.Minor:
		return sign(v.Minor - o.Minor)
	default:
		return sign(v.Patch - o.Patch)
	}
}

func (v Version) String() string { return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch) }

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// SubspaceStructure discriminates how an IndexKind lays out its subspace,
// used by the query planner to decide what scan shapes an index supports.
type SubspaceStructure int

const (
	// Flat indexes store one entry per (key, id): scalar, version, min, max.
	Flat SubspaceStructure = iota
	// Aggregation indexes store one entry per group key: count, sum.
	Aggregation
	// Hierarchical indexes support range scans over partially-specified
	// keys; an extension-kind layout none of the built-ins use.
	Hierarchical
)

// IndexMaintainer is the write/verify surface an IndexKind produces for one
// IndexDescriptor. Update is invoked from inside the same
// RwTx as the record mutation it reacts to; Scan (re)computes an index entry
// for one already-stored record, used by the online builder and scrubber.
type IndexMaintainer interface {
	// Update reacts to a record transitioning from old to new (old == nil on
	// insert, new == nil on delete) and mutates the index's subspace.
	Update(ctx context.Context, id tuple.Tuple, old, new any, tx kv.RwTx) error

	// Scan (re)computes the index entries new would contribute, without
	// reference to any prior stored value. Used by the builder to construct
	// entries in bulk, and by the scrubber to repair entries it found missing.
	Scan(ctx context.Context, id tuple.Tuple, record any, tx kv.RwTx) error
}

// KeyComputer is an optional capability some maintainers implement so the
// scrubber can compare an expected index key set against what's stored
// without re-running Update's side effects.
type KeyComputer interface {
	ComputeIndexKeys(id tuple.Tuple, record any) ([][]byte, error)
}

// IndexKind names a family of index behaviour (scalar, count, sum, min, max,
// version, ...) and manufactures IndexMaintainers for individual
// descriptors.
type IndexKind interface {
	// Identifier is the stable name persisted alongside the descriptor.
	Identifier() string

	// SubspaceStructure reports this kind's on-disk layout family.
	SubspaceStructure() SubspaceStructure

	// ValidateTypes rejects a descriptor whose key-expression produces types
	// this kind cannot index (e.g. sum over a non-numeric field).
	ValidateTypes(types []reflect.Type) error

	// MakeMaintainer builds the maintainer for one descriptor, rooted at sub.
	MakeMaintainer(desc *IndexDescriptor, sub tuple.Subspace, idExpr keyexpr.Expr) (IndexMaintainer, error)
}

// CommonOptions are the options every index shares regardless of kind.
type CommonOptions struct {
	Unique   bool
	Sparse   bool
	Metadata map[string]string
}

// IndexDescriptor names one maintained index: a key expression, the kind
// that maintains it, and the options governing uniqueness and sparseness.
type IndexDescriptor struct {
	Name     string
	KeyPaths []string
	Kind     IndexKind
	Options  CommonOptions
	// AppliesTo restricts the index to specific entity type names sharing
	// this descriptor (a union index); nil means "only the declaring entity".
	AppliesTo []string
}

// KeyExpr compiles the descriptor's KeyPaths into a key-expression AST.
func (d *IndexDescriptor) KeyExpr() keyexpr.Expr {
	return keyexpr.FromPaths(d.KeyPaths)
}

// Field describes one entity field, including any enum metadata attached to
// it. Enum cases are descriptive only: no write path checks values against
// them.
type Field struct {
	Name string
	Enum []string // nil if this field is not an enum
}

// Entity is one maintained record type: its fields, its identity expression,
// and the indexes declared directly against it.
type Entity struct {
	Name    string
	Fields  []Field
	IDPaths []string
	Indexes []*IndexDescriptor
	// New constructs a zero-value pointer to this entity's Go type, e.g.
	// func() any { return &User{} }. In a language with a macro mechanism
	// for entity metadata this would be generated; here the caller supplies
	// it once at schema construction and it is fanned out into the Schema's
	// Registry, which constructs records by entity name alone. The builder
	// and scrubber do not use the Registry; they take a newRecord per call.
	New func() any
}

// IDExpr compiles the entity's identity paths into a key-expression AST.
func (e *Entity) IDExpr() keyexpr.Expr {
	return keyexpr.FromPaths(e.IDPaths)
}

func (e *Entity) fieldSet() map[string]bool {
	set := make(map[string]bool, len(e.Fields))
	for _, f := range e.Fields {
		set[f.Name] = true
	}
	return set
}

// FormerIndex records an index that existed in an earlier schema version and
// has since been removed. The Schema only carries this history: neither the
// builder nor the scrubber reads it, and nothing clears the removed index's
// subspace.
type FormerIndex struct {
	Name             string
	RemovedAtVersion Version
}

// Schema is the full declarative description: a version, a set of entities,
// and the union index descriptors that apply across more than one entity.
type Schema struct {
	Version  Version
	Entities []*Entity
	Extra    []*IndexDescriptor // indexes that apply to more than one entity
	Former   []FormerIndex

	entityByName map[string]*Entity
	indexByName  map[string]*IndexDescriptor

	// Registry dispatches type-erased record construction by entity name;
	// populated from every Entity that supplies a New constructor.
	Registry *Registry
}

// New validates and indexes a Schema by name, rejecting duplicate index
// names across the whole schema.
func New(version Version, entities []*Entity, extra []*IndexDescriptor, former []FormerIndex) (*Schema, error) {
	s := &Schema{
		Version:      version,
		Entities:     entities,
		Extra:        extra,
		Former:       former,
		entityByName: make(map[string]*Entity, len(entities)),
		indexByName:  make(map[string]*IndexDescriptor),
		Registry:     &Registry{factories: make(map[string]func() any, len(entities))},
	}
	for _, e := range entities {
		if _, dup := s.entityByName[e.Name]; dup {
			return nil, rerr.New(rerr.DuplicateIndexName, "duplicate entity name %q", e.Name)
		}
		s.entityByName[e.Name] = e
		if e.New != nil {
			s.Registry.factories[e.Name] = e.New
		}
		for _, d := range e.Indexes {
			if err := s.registerIndex(d); err != nil {
				return nil, err
			}
		}
	}
	for _, d := range extra {
		if err := s.registerIndex(d); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Schema) registerIndex(d *IndexDescriptor) error {
	if existing, dup := s.indexByName[d.Name]; dup {
		return rerr.New(rerr.DuplicateIndexName, "duplicate index name %q: key paths %v collide with %v",
			d.Name, existing.KeyPaths, d.KeyPaths)
	}
	s.indexByName[d.Name] = d
	return nil
}

// EntityByName returns the entity registered under name.
func (s *Schema) EntityByName(name string) (*Entity, bool) {
	e, ok := s.entityByName[name]
	return e, ok
}

// EntityByType resolves the entity whose Name matches record's Go type name.
func (s *Schema) EntityByType(record any) (*Entity, bool) {
	t := reflect.TypeOf(record)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return s.EntityByName(t.Name())
}

// IndexByName returns the descriptor registered under name.
func (s *Schema) IndexByName(name string) (*IndexDescriptor, bool) {
	d, ok := s.indexByName[name]
	return d, ok
}

// IndexesFor returns every descriptor that applies to the named entity:
// those declared directly on it, plus any Extra descriptor naming it in
// AppliesTo.
func (s *Schema) IndexesFor(entityName string) []*IndexDescriptor {
	e, ok := s.entityByName[entityName]
	if !ok {
		return nil
	}
	out := append([]*IndexDescriptor{}, e.Indexes...)
	for _, d := range s.Extra {
		for _, name := range d.AppliesTo {
			if name == entityName {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// sortedEntityNames returns the schema's entity names in ascending order.
func (s *Schema) sortedEntityNames() []string {
	names := make([]string, 0, len(s.Entities))
	for _, e := range s.Entities {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether two schemas carry the same version over the same
// entity-name set. Field and index detail is deliberately excluded: two
// deployments on the same declared version are the same schema, and drift
// within a version is a deployment error, not a distinct schema.
func (s *Schema) Equal(o *Schema) bool {
	if o == nil || s.Version.Compare(o.Version) != 0 {
		return false
	}
	a, b := s.sortedEntityNames(), o.sortedEntityNames()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Fingerprint hashes what Equal compares, for use as a map key or a cheap
// persisted schema identity.
func (s *Schema) Fingerprint() uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d.%d.%d", s.Version.Major, s.Version.Minor, s.Version.Patch)
	for _, name := range s.sortedEntityNames() {
		h.Write([]byte{0})
		h.Write([]byte(name))
	}
	return h.Sum64()
}

// CanLightweightMigrate reports whether a running DataStore can adopt
// `to` without a full rebuild: every entity of `from` must still exist in
// `to` with none of its fields removed. Added entities, added fields and
// index changes do not prevent it.
func CanLightweightMigrate(from, to *Schema) bool {
	for _, oldEntity := range from.Entities {
		newEntity, ok := to.EntityByName(oldEntity.Name)
		if !ok {
			return false // entity removed entirely
		}
		newFields := newEntity.fieldSet()
		for _, f := range oldEntity.Fields {
			if !newFields[f.Name] {
				return false
			}
		}
	}
	return true
}
