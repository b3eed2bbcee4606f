package datanorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		rows    []map[string]string
		want    Language
	}{
		{"french", []string{"Prénom", "Nom", "Entreprise", "Courriel"}, nil, LangFrench},
		{"german", []string{"Vorname", "Nachname", "Firma", "Telefon"}, nil, LangGerman},
		{"english", []string{"Full Name", "Email", "Company"}, nil, LangEnglish},
		{"empty", nil, nil, LangEnglish},
		{"no hits", []string{"Col1", "Col2"}, nil, LangEnglish},
		{
			"sample values tip the balance",
			[]string{"Kontakt", "Col2"},
			[]map[string]string{{"Col2": "Musterstraße 1"}},
			LangGerman,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.headers, tt.rows))
		})
	}
}

func TestParseLanguageHint(t *testing.T) {
	tests := []struct {
		hint string
		want Language
		ok   bool
	}{
		{"fr", LangFrench, true},
		{"fr-CA", LangFrench, true},
		{"de-CH", LangGerman, true},
		{"en-GB", LangEnglish, true},
		{"es", "", false},
		{"", "", false},
		{"not a tag!", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.hint, func(t *testing.T) {
			got, ok := ParseLanguageHint(tt.hint)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
