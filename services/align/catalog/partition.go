// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package catalog

// =============================================================================
// Candidate Partitioner
// =============================================================================

// Pool holds the caller-supplied candidate list split by provenance.
//
// Description:
//
//	The three slices preserve the relative order of the input list, which is
//	what makes tie-breaking by input order deterministic further down the
//	pipeline. The slices alias the input backing array; neither the input
//	nor the pool is ever mutated after Partition returns.
type Pool struct {
	// Raw holds raw-reference candidates in input order.
	Raw []Entry

	// Cooked holds cooked-reference candidates in input order.
	Cooked []Entry

	// Commercial holds commercial candidates in input order.
	Commercial []Entry
}

// Total returns the combined candidate count across all three buckets.
func (p Pool) Total() int {
	return len(p.Raw) + len(p.Cooked) + len(p.Commercial)
}

// Partition splits entries into provenance buckets without reordering or
// mutating the input.
//
// Inputs:
//
//	entries - The caller-supplied candidate list. May be nil or empty.
//
// Outputs:
//
//	Pool - The partitioned buckets. Never nil slices are not guaranteed;
//	       empty buckets are nil.
//
// Thread Safety: Pure function; safe for concurrent use.
func Partition(entries []Entry) Pool {
	var pool Pool
	for _, e := range entries {
		switch e.Provenance {
		case ProvenanceRawReference:
			pool.Raw = append(pool.Raw, e)
		case ProvenanceCookedReference:
			pool.Cooked = append(pool.Cooked, e)
		case ProvenanceCommercial:
			pool.Commercial = append(pool.Commercial, e)
		}
	}
	return pool
}
