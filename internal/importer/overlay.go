package importer

// ApplyDecisions replays the review of a sampled preview onto a preview
// built from the full data set. The full classification stays authoritative:
// a sampled row that duplicates a row outside the sample is still a
// duplicate. Only explicit decisions carry over. Deleted rows become
// excluded, kept duplicates are promoted, and selection toggles apply to
// rows that are valid in both previews.
func ApplyDecisions(full, reviewed *Preview) *Preview {
	out := full.Clone()

	byIndex := make(map[int]Row, len(reviewed.Rows))
	for _, r := range reviewed.Rows {
		byIndex[r.OriginalIndex] = r
	}
	deleted := indexSet(reviewed.DeletedIndexes)
	kept := indexSet(reviewed.KeptIndexes)

	for i := range out.Rows {
		r := &out.Rows[i]
		if deleted[r.OriginalIndex] {
			r.Status = StatusExcluded
			r.Selected = false
			continue
		}
		decided, inSample := byIndex[r.OriginalIndex]
		if kept[r.OriginalIndex] && r.Status == StatusDuplicate {
			r.Status = StatusValid
			r.Selected = true
			r.DuplicateOf = ""
			r.DuplicateFields = nil
		}
		if inSample && r.Status == StatusValid && decided.Status == StatusValid {
			r.Selected = decided.Selected
		}
	}
	out.DeletedIndexes = append([]int(nil), reviewed.DeletedIndexes...)
	out.KeptIndexes = append([]int(nil), reviewed.KeptIndexes...)
	out.Recount()
	return out
}

func indexSet(indexes []int) map[int]bool {
	set := make(map[int]bool, len(indexes))
	for _, idx := range indexes {
		set[idx] = true
	}
	return set
}
