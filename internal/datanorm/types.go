// Package datanorm maps spreadsheet columns onto canonical contact fields:
// template detection, keyword heuristics, language detection and the
// optional language-model refinement.
package datanorm

import "fmt"

// Field is a canonical contact field key.
type Field string

const (
	FieldFullName    Field = "fullName"
	FieldFirstName   Field = "firstName"
	FieldLastName    Field = "lastName"
	FieldCompanyName Field = "companyName"
	FieldEmail       Field = "email"
	FieldPhone       Field = "phone"
	FieldContactType Field = "contactType"
	FieldPosition    Field = "position"
	FieldFullAddress Field = "fullAddress"
	FieldAddress     Field = "address"
	FieldCity        Field = "city"
	FieldState       Field = "state"
	FieldZipCode     Field = "zipCode"
	FieldCountry     Field = "country"
	FieldNotes       Field = "notes"
)

// Fields is the closed set of canonical fields, in display order.
var Fields = []Field{
	FieldFullName, FieldFirstName, FieldLastName, FieldCompanyName,
	FieldEmail, FieldPhone, FieldContactType, FieldPosition,
	FieldFullAddress, FieldAddress, FieldCity, FieldState,
	FieldZipCode, FieldCountry, FieldNotes,
}

// AnchorFields are the fields of which at least one must be present per row.
var AnchorFields = []Field{FieldFullName, FieldCompanyName}

var knownFields = func() map[Field]bool {
	m := make(map[Field]bool, len(Fields))
	for _, f := range Fields {
		m[f] = true
	}
	return m
}()

// Valid reports whether f is a canonical field.
func (f Field) Valid() bool { return knownFields[f] }

// IsAnchor reports whether f is one of the anchor fields.
func (f Field) IsAnchor() bool { return f == FieldFullName || f == FieldCompanyName }

// ParseField converts a field key into a Field.
func ParseField(s string) (Field, error) {
	f := Field(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown field %q", s)
	}
	return f, nil
}

// Language is the detected language of a file's headers.
type Language string

const (
	LangEnglish Language = "en"
	LangFrench  Language = "fr"
	LangGerman  Language = "de"
)

// ColumnMapping maps a source header to a canonical field. A header with no
// mapping is absent from the map.
type ColumnMapping map[string]Field

// Clone returns an independent copy of m.
func (m ColumnMapping) Clone() ColumnMapping {
	out := make(ColumnMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// HasAnchor reports whether any header is mapped to an anchor field.
func (m ColumnMapping) HasAnchor() bool {
	for _, f := range m {
		if f.IsAnchor() {
			return true
		}
	}
	return false
}

// Prediction is the proposed target of one source column.
type Prediction struct {
	SourceColumn string  `json:"sourceColumn"`
	TargetField  *Field  `json:"targetField"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// PredictionResult is the outcome of one prediction run.
type PredictionResult struct {
	Predictions []Prediction `json:"predictions"`
	Language    Language     `json:"language"`
	AIUsed      bool         `json:"aiUsed"`
}

// Mapping converts predictions into a ColumnMapping, omitting unmapped columns.
func (r PredictionResult) Mapping() ColumnMapping {
	m := make(ColumnMapping, len(r.Predictions))
	for _, p := range r.Predictions {
		if p.TargetField != nil {
			m[p.SourceColumn] = *p.TargetField
		}
	}
	return m
}

func fieldPtr(f Field) *Field { return &f }
