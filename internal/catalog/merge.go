package catalog

// Merge folds a freshly fetched snapshot of one kind into the previous resources of that
// kind and returns the new list in snapshot order.
//
//   - authoritative fields (columns, description, pending flag, expiry) come from the snapshot
//   - Selected is kept for every resource still present; new resources start deselected
//   - resources absent from the snapshot are dropped, except optimistic ones no snapshot
//     has listed yet, which are kept at the end
//   - a persistent resource already observed ready stays ready even if the snapshot still
//     carries the analysis placeholder
//
// Merge is pure and idempotent: Merge(Merge(old, s), s) equals Merge(old, s).
func Merge(old, snapshot []Resource) []Resource {
	prev := make(map[string]Resource, len(old))
	for _, r := range old {
		prev[r.Name] = r
	}

	out := make([]Resource, 0, len(snapshot))
	seen := make(map[string]bool, len(snapshot))
	for _, s := range snapshot {
		if seen[s.Name] {
			continue
		}
		seen[s.Name] = true

		r := s
		r.Optimistic = false
		r.Columns = append([]Column(nil), s.Columns...)
		if p, ok := prev[s.Name]; ok {
			r.Selected = p.Selected
			if r.AnalysisPending && !p.AnalysisPending && !p.Optimistic {
				r.AnalysisPending = false
				r.Description = p.Description
			}
		} else {
			r.Selected = false
		}
		out = append(out, r)
	}

	for _, p := range old {
		if p.Optimistic && !seen[p.Name] {
			out = append(out, p)
		}
	}
	return out
}

// readyTransitions lists resources pending in old that are ready in updated.
func readyTransitions(old, updated []Resource) []string {
	pending := make(map[string]bool)
	for _, r := range old {
		if r.AnalysisPending {
			pending[r.Name] = true
		}
	}
	var ready []string
	for _, r := range updated {
		if pending[r.Name] && !r.AnalysisPending {
			ready = append(ready, r.Name)
		}
	}
	return ready
}
