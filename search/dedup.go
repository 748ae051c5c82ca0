// Package search provides deduplication of code-search results gathered
// across multiple queries in a single batch search operation.
package search

// Result is a single scored hit from a semantic or lexical code search.
// NodeID identifies the underlying code node so the same node found by
// different queries can be recognized as a duplicate.
type Result struct {
	NodeID    string
	Relevance *float64
	Distance  *float64
}

// score tracks the best-scoring occurrence of a node across queries.
// Priority order: relevance (higher wins) -> distance (lower wins) ->
// query index (lower wins, i.e. the first query to find it wins ties).
type score struct {
	queryIdx  int
	relevance *float64
	distance  *float64
}

func newScore(queryIdx int, r Result) score {
	return score{queryIdx: queryIdx, relevance: r.Relevance, distance: r.Distance}
}

// compareOptional compares two optional float64s where higher is better.
// Returns (ordering, true) when decisive, (0, false) to fall through to
// the next comparison in the chain.
func compareOptional(a, b *float64) (int, bool) {
	switch {
	case a != nil && b != nil:
		switch {
		case *a > *b:
			return 1, true
		case *a < *b:
			return -1, true
		default:
			return 0, false
		}
	case a != nil && b == nil:
		return 1, true // having a value beats having none
	case a == nil && b != nil:
		return -1, true
	default:
		return 0, false
	}
}

// better reports whether s is a strictly better score than other.
func (s score) better(other score) bool {
	if ord, ok := compareOptional(s.relevance, other.relevance); ok {
		return ord > 0
	}
	// distance: lower is better, so flip the operands.
	if ord, ok := compareOptional(other.distance, s.distance); ok {
		return ord > 0
	}
	// tie-break: the lower query index (first query to see the node) wins.
	return s.queryIdx < other.queryIdx
}

// Deduplicate removes duplicate nodes across a batch of per-query result
// sets in place, keeping each node only in the query where it scored best.
func Deduplicate(results [][]Result) {
	best := make(map[string]score, len(results))

	for queryIdx, queryResults := range results {
		for _, r := range queryResults {
			cur := newScore(queryIdx, r)
			if existing, ok := best[r.NodeID]; !ok || cur.better(existing) {
				best[r.NodeID] = cur
			}
		}
	}

	for queryIdx, queryResults := range results {
		kept := queryResults[:0]
		for _, r := range queryResults {
			if b, ok := best[r.NodeID]; !ok || b.queryIdx == queryIdx {
				kept = append(kept, r)
			}
		}
		results[queryIdx] = kept
	}
}
