package news

// Method tags how a MatchResult was produced.
type Method string

const (
	MethodExactName Method = "exact-name"
	MethodAI        Method = "ai-disambiguation"
	MethodUnmatched Method = "unmatched"
)

// MatchResult is the outcome of matching one surviving article.
type MatchResult struct {
	Article    Article  `json:"article"`
	EntityIDs  []int64  `json:"entity_ids"`
	Method     Method   `json:"method"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}

// CapIDs returns at most limit IDs, dropping duplicates and keeping order.
func CapIDs(ids []int64, limit int) []int64 {
	out := make([]int64, 0, min(len(ids), max(limit, 0)))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
