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

package query

import (
	"github.com/erigontech/reclayer/layout"
	"github.com/erigontech/reclayer/schema"
	"github.com/erigontech/reclayer/tuple"
)

// Plan is the planner's output: either a scan range over a chosen index's
// subspace, or (Index == nil) a full entity-type scan. Exact reports whether
// the scan range alone already satisfies the whole predicate — the tree is a
// pure AND of exactly the conditions the range enforces — letting a count
// query skip post-filtering and record deserialisation entirely.
type Plan struct {
	Index      *schema.IndexDescriptor
	Begin, End []byte
	Exact      bool
}

// candidate is one index considered during selection, ranked by priority
// (lower wins): 1 = full compound-eq prefix, 2 = leading-field =, 3 =
// leading-field range.
type candidate struct {
	desc       *schema.IndexDescriptor
	priority   int
	prefixVals tuple.Tuple
	covered    []FieldPredicate // the conditions the scan range enforces by itself
	driver     FieldPredicate
}

// flattenIndexable gathers the AND-chain's indexable atomic conditions;
// Or/Not and anything outside a plain FieldPredicate/And are not
// index-lifted.
func flattenIndexable(pred Predicate) []FieldPredicate {
	switch p := pred.(type) {
	case FieldPredicate:
		if isIndexable(p.Op) {
			return []FieldPredicate{p}
		}
		return nil
	case And:
		var out []FieldPredicate
		for _, c := range p.Predicates {
			out = append(out, flattenIndexable(c)...)
		}
		return out
	default:
		return nil
	}
}

// flattenAnd returns every field predicate in a pure AND-chain, reporting
// pure=false when the tree contains any other node (Or, Not, True, False) —
// shapes a single scan range can never account for on its own.
func flattenAnd(pred Predicate) (atoms []FieldPredicate, pure bool) {
	switch p := pred.(type) {
	case FieldPredicate:
		return []FieldPredicate{p}, true
	case And:
		var out []FieldPredicate
		for _, c := range p.Predicates {
			sub, ok := flattenAnd(c)
			if !ok {
				return nil, false
			}
			out = append(out, sub...)
		}
		return out, true
	default:
		return nil, false
	}
}

// chooseConditions keeps, per field path, the = condition if one exists,
// else the first range condition seen.
func chooseConditions(atoms []FieldPredicate) map[string]FieldPredicate {
	chosen := make(map[string]FieldPredicate, len(atoms))
	for _, a := range atoms {
		cur, ok := chosen[a.Path]
		if !ok {
			chosen[a.Path] = a
			continue
		}
		if a.Op == Eq && cur.Op != Eq {
			chosen[a.Path] = a
		}
	}
	return chosen
}

func bestCandidate(descs []*schema.IndexDescriptor, conds map[string]FieldPredicate) *candidate {
	var best *candidate
	for _, d := range descs {
		if d.Kind.SubspaceStructure() != schema.Flat || len(d.KeyPaths) == 0 {
			continue
		}
		cand := candidateFor(d, conds)
		if cand == nil {
			continue
		}
		if best == nil || cand.priority < best.priority {
			best = cand
		}
	}
	return best
}

func candidateFor(d *schema.IndexDescriptor, conds map[string]FieldPredicate) *candidate {
	if len(d.KeyPaths) >= 2 {
		var vals tuple.Tuple
		var covered []FieldPredicate
		allEq := true
		for _, p := range d.KeyPaths {
			c, ok := conds[p]
			if !ok || c.Op != Eq {
				allEq = false
				break
			}
			vals = append(vals, normalize(c.Value))
			covered = append(covered, c)
		}
		if allEq {
			return &candidate{desc: d, priority: 1, prefixVals: vals, covered: covered}
		}
	}
	leading := d.KeyPaths[0]
	lc, ok := conds[leading]
	if !ok {
		return nil
	}
	if lc.Op == Eq {
		return &candidate{desc: d, priority: 2, prefixVals: tuple.Tuple{normalize(lc.Value)}, covered: []FieldPredicate{lc}, driver: lc}
	}
	if isIndexable(lc.Op) {
		return &candidate{desc: d, priority: 3, covered: []FieldPredicate{lc}, driver: lc}
	}
	return nil
}

func scanRange(sub tuple.Subspace, cand *candidate) (begin, end []byte) {
	switch cand.priority {
	case 1, 2:
		begin = sub.Pack(cand.prefixVals)
		end = tuple.Strinc(begin)
		return begin, end
	default: // 3: leading-field range condition
		subBegin, subEnd := sub.Range()
		packed := sub.Pack(tuple.Tuple{normalize(cand.driver.Value)})
		switch cand.driver.Op {
		case Gt:
			return tuple.Strinc(packed), subEnd
		case Gte:
			return packed, subEnd
		case Lt:
			return subBegin, packed
		default: // Lte
			return subBegin, tuple.Strinc(packed)
		}
	}
}

// SelectPlan chooses a scan for pred over entityType's indexes, falling
// back to a full scan (Index == nil) when no index applies or the chosen
// index is not readable. root is used to resolve the chosen index's
// subspace into concrete begin/end bytes.
func SelectPlan(sch *schema.Schema, root layout.Root, entityType string, pred Predicate, readable func(indexName string) bool) *Plan {
	atoms := flattenIndexable(pred)
	if len(atoms) == 0 {
		return &Plan{}
	}
	conds := chooseConditions(atoms)
	cand := bestCandidate(sch.IndexesFor(entityType), conds)
	if cand == nil || !readable(cand.desc.Name) {
		return &Plan{}
	}
	begin, end := scanRange(root.IndexSubspace(cand.desc.Name), cand)
	return &Plan{
		Index: cand.desc,
		Begin: begin,
		End:   end,
		Exact: coversWhole(pred, cand.covered),
	}
}

// coversWhole reports whether the scan range's covered conditions account
// for the entire predicate: the tree must be a pure AND whose every atom is
// one of the covered conditions. Any non-indexable sibling (contains,
// prefix/suffix, !=, in, nil checks) or nested Or/Not leaves work for the
// post-filter, so the plan is not exact.
func coversWhole(pred Predicate, covered []FieldPredicate) bool {
	atoms, pure := flattenAnd(pred)
	if !pure {
		return false
	}
	for _, a := range atoms {
		if !coveredBy(a, covered) {
			return false
		}
	}
	return true
}

func coveredBy(a FieldPredicate, covered []FieldPredicate) bool {
	for _, c := range covered {
		if a.Path == c.Path && a.Op == c.Op && compareElements(normalize(a.Value), normalize(c.Value)) == 0 {
			return true
		}
	}
	return false
}
