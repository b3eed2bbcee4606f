package importer

import "sort"

// Every mutator returns a new Preview; the receiver is left untouched.

// ToggleRow flips the selection of a valid row. Rows with any other status
// are returned unchanged.
func (p *Preview) ToggleRow(id string) (*Preview, error) {
	out := p.Clone()
	for i := range out.Rows {
		r := &out.Rows[i]
		if r.ID != id {
			continue
		}
		if r.Status == StatusValid {
			r.Selected = !r.Selected
		}
		return out, nil
	}
	return nil, ErrRowNotFound
}

// SetAllSelected sets the selection of every valid row.
func (p *Preview) SetAllSelected(selected bool) *Preview {
	out := p.Clone()
	for i := range out.Rows {
		if out.Rows[i].Status == StatusValid {
			out.Rows[i].Selected = selected
		}
	}
	return out
}

// KeepDuplicates promotes the given duplicate rows to valid and selects them,
// without re-running duplicate detection. No ids means every duplicate.
func (p *Preview) KeepDuplicates(ids []string) *Preview {
	out := p.Clone()
	match := idMatcher(ids)
	for i := range out.Rows {
		r := &out.Rows[i]
		if r.Status != StatusDuplicate || !match(r.ID) {
			continue
		}
		r.Status = StatusValid
		r.Selected = true
		r.DuplicateOf = ""
		r.DuplicateFields = nil
		out.KeptIndexes = append(out.KeptIndexes, r.OriginalIndex)
	}
	sort.Ints(out.KeptIndexes)
	out.Recount()
	return out
}

// DeleteDuplicates removes the given duplicate rows from the batch. No ids
// means every duplicate. TotalRows shrinks by the number removed.
func (p *Preview) DeleteDuplicates(ids []string) *Preview {
	out := p.Clone()
	match := idMatcher(ids)
	kept := out.Rows[:0]
	for _, r := range out.Rows {
		if r.Status == StatusDuplicate && match(r.ID) {
			out.DeletedIndexes = append(out.DeletedIndexes, r.OriginalIndex)
			continue
		}
		kept = append(kept, r)
	}
	removed := len(out.Rows) - len(kept)
	out.Rows = kept
	out.TotalRows -= removed
	sort.Ints(out.DeletedIndexes)
	out.Recount()
	return out
}

func idMatcher(ids []string) func(string) bool {
	if len(ids) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(id string) bool { return set[id] }
}
