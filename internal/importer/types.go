// Package importer applies a column mapping to spreadsheet rows and builds
// the reviewable preview: per-row validation, duplicate detection and the
// selection operations a user performs before committing.
package importer

import (
	"errors"

	"github.com/ignite/contact-import/internal/datanorm"
)

var ErrRowNotFound = errors.New("row not found")

// Status is the classification of one imported row.
type Status string

const (
	StatusValid     Status = "valid"
	StatusInvalid   Status = "invalid"
	StatusEmpty     Status = "empty"
	StatusDuplicate Status = "duplicate"
	// StatusExcluded marks rows the user removed from a sampled preview when
	// the decisions are replayed over the full data set.
	StatusExcluded Status = "excluded"
)

// ParseStatus validates a status filter.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusValid, StatusInvalid, StatusEmpty, StatusDuplicate, StatusExcluded:
		return st, true
	}
	return "", false
}

// Row is the unit of review.
type Row struct {
	ID              string                    `json:"id"`
	OriginalIndex   int                       `json:"originalIndex"`
	Data            map[datanorm.Field]string `json:"data"`
	Status          Status                    `json:"status"`
	Errors          []string                  `json:"errors,omitempty"`
	Warnings        []string                  `json:"warnings,omitempty"`
	Selected        bool                      `json:"selected"`
	DuplicateOf     string                    `json:"duplicateOf,omitempty"`
	DuplicateFields []datanorm.Field          `json:"duplicateFields,omitempty"`
}

func (r Row) clone() Row {
	out := r
	if r.Data != nil {
		out.Data = make(map[datanorm.Field]string, len(r.Data))
		for k, v := range r.Data {
			out.Data[k] = v
		}
	}
	out.Errors = append([]string(nil), r.Errors...)
	out.Warnings = append([]string(nil), r.Warnings...)
	out.DuplicateFields = append([]datanorm.Field(nil), r.DuplicateFields...)
	return out
}

// Preview is one reviewable batch. The per-status counts are derived from
// Rows by Recount and never tracked independently.
type Preview struct {
	Rows           []Row `json:"rows"`
	TotalRows      int   `json:"totalRows"`
	ValidRows      int   `json:"validRows"`
	InvalidRows    int   `json:"invalidRows"`
	DuplicateRows  int   `json:"duplicateRows"`
	EmptyRows      int   `json:"emptyRows"`
	ExcludedRows   int   `json:"excludedRows"`
	IsLargeDataset bool  `json:"isLargeDataset"`
	PreviewRows    int   `json:"previewRows"`

	// DeletedIndexes lists the original indexes of rows removed with
	// DeleteDuplicates.
	DeletedIndexes []int `json:"deletedIndexes,omitempty"`
	// KeptIndexes lists the original indexes of duplicates promoted with
	// KeepDuplicates.
	KeptIndexes    []int `json:"keptIndexes,omitempty"`
}

// Recount recomputes the aggregate counts from Rows.
func (p *Preview) Recount() {
	p.ValidRows, p.InvalidRows, p.DuplicateRows, p.EmptyRows, p.ExcludedRows = 0, 0, 0, 0, 0
	for _, r := range p.Rows {
		switch r.Status {
		case StatusValid:
			p.ValidRows++
		case StatusInvalid:
			p.InvalidRows++
		case StatusDuplicate:
			p.DuplicateRows++
		case StatusEmpty:
			p.EmptyRows++
		case StatusExcluded:
			p.ExcludedRows++
		}
	}
	p.PreviewRows = len(p.Rows)
}

// Clone returns a deep copy of p.
func (p *Preview) Clone() *Preview {
	out := *p
	out.Rows = make([]Row, len(p.Rows))
	for i, r := range p.Rows {
		out.Rows[i] = r.clone()
	}
	out.DeletedIndexes = append([]int(nil), p.DeletedIndexes...)
	out.KeptIndexes = append([]int(nil), p.KeptIndexes...)
	return &out
}

// Row returns the row with the given id.
func (p *Preview) Row(id string) (Row, bool) {
	for _, r := range p.Rows {
		if r.ID == id {
			return r, true
		}
	}
	return Row{}, false
}

// Selected returns the rows that will be committed: selected and valid.
func (p *Preview) Selected() []Row {
	var out []Row
	for _, r := range p.Rows {
		if r.Selected && r.Status == StatusValid {
			out = append(out, r)
		}
	}
	return out
}

// Filter returns the rows with the given status; an empty status returns all.
func (p *Preview) Filter(status Status) []Row {
	if status == "" {
		return p.Rows
	}
	var out []Row
	for _, r := range p.Rows {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}
