// Package contacts flattens reviewed import rows into contact records and
// writes them to a bulk-create sink.
package contacts

import (
	"context"
	"strings"

	"github.com/ignite/contact-import/internal/datanorm"
)

const (
	TypeIndividual = "individual"
	TypeCompany    = "company"
)

// Record is one flattened contact.
type Record struct {
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Company  string `json:"company,omitempty"`
	Position string `json:"position,omitempty"`
	Type     string `json:"type"`
	Address  string `json:"address,omitempty"`
	Notes    string `json:"notes,omitempty"`
	Favorite bool   `json:"favorite"`
}

// BulkOptions control how a sink treats contacts that already exist.
type BulkOptions struct {
	SkipDuplicates bool `json:"skipDuplicates"`
	UpdateExisting bool `json:"updateExisting"`
}

// BulkResult is returned verbatim to the caller, partial failures included.
type BulkResult struct {
	SuccessCount int      `json:"successCount"`
	FailedCount  int      `json:"failedCount"`
	Errors       []string `json:"errors"`
}

// Sink creates contacts in bulk. An error means the batch could not be
// submitted at all; per-record failures are reported in BulkResult.
type Sink interface {
	BulkCreate(ctx context.Context, records []Record, opts BulkOptions) (BulkResult, error)
}

// FromRow flattens canonical row data into a Record.
func FromRow(data map[datanorm.Field]string) Record {
	r := Record{
		Email:    data[datanorm.FieldEmail],
		Phone:    data[datanorm.FieldPhone],
		Company:  data[datanorm.FieldCompanyName],
		Position: data[datanorm.FieldPosition],
		Notes:    data[datanorm.FieldNotes],
	}

	r.Name = data[datanorm.FieldFullName]
	if r.Name == "" {
		r.Name = joinNonEmpty(" ", data[datanorm.FieldFirstName], data[datanorm.FieldLastName])
	}

	r.Address = data[datanorm.FieldFullAddress]
	if r.Address == "" {
		r.Address = joinNonEmpty(", ",
			data[datanorm.FieldAddress], data[datanorm.FieldCity], data[datanorm.FieldState],
			data[datanorm.FieldZipCode], data[datanorm.FieldCountry])
	}

	r.Type = normalizeType(data[datanorm.FieldContactType])
	if r.Type == "" {
		r.Type = TypeIndividual
		if r.Name == "" && r.Company != "" {
			r.Type = TypeCompany
		}
	}
	if r.Name == "" {
		r.Name = r.Company
	}
	return r
}

var typeWords = map[string]string{
	"individual":   TypeIndividual,
	"person":       TypeIndividual,
	"particulier":  TypeIndividual,
	"personne":     TypeIndividual,
	"privatperson": TypeIndividual,
	"company":      TypeCompany,
	"business":     TypeCompany,
	"organization": TypeCompany,
	"organisation": TypeCompany,
	"entreprise":   TypeCompany,
	"societe":      TypeCompany,
	"société":      TypeCompany,
	"firma":        TypeCompany,
	"unternehmen":  TypeCompany,
}

func normalizeType(v string) string {
	return typeWords[strings.ToLower(strings.TrimSpace(v))]
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
