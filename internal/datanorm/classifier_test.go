package datanorm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-import/internal/spreadsheet"
)

func TestDetectTemplate(t *testing.T) {
	permuted := []string{
		"Email Address*", "Full Name*", "Phone Number",
		"Contact Type (Individual / Company)", "Position / Title", "Full Address",
	}

	tests := []struct {
		name     string
		fileName string
		headers  []string
		sheet    string
		size     int64
		wantTpl  bool
		wantMin  int
		wantMax  int
	}{
		{
			name:     "downloaded template",
			fileName: "contacts_import_template.xlsx",
			headers:  spreadsheet.TemplateHeaders,
			sheet:    "Contacts",
			size:     6 * 1024,
			wantTpl:  true,
			wantMin:  100,
			wantMax:  100,
		},
		{
			name:     "renamed copy of a filled template",
			fileName: "Contacts_Import_Template (1).xlsx",
			headers:  spreadsheet.TemplateHeaders,
			sheet:    "Contacts",
			size:     2 * 1024 * 1024,
			wantTpl:  true,
			wantMin:  90,
			wantMax:  90,
		},
		{
			name:     "permuted headers lose the exact-order bonus",
			fileName: "export.xlsx",
			headers:  permuted,
			sheet:    "Contacts",
			size:     64 * 1024,
			wantTpl:  false,
			wantMin:  40,
			wantMax:  40,
		},
		{
			name:     "unrelated file",
			fileName: "crm_export.xlsx",
			headers:  []string{"Vorname", "Nachname", "Firma"},
			sheet:    "Sheet1",
			size:     4 * 1024,
			wantTpl:  false,
			wantMin:  0,
			wantMax:  20,
		},
		{
			name:     "three of six headers",
			fileName: "contacts.xlsx",
			headers:  []string{"Full Name*", "Email Address*", "Phone Number"},
			sheet:    "Sheet1",
			size:     8 * 1024,
			wantTpl:  false,
			wantMin:  10,
			wantMax:  10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DetectTemplate(tt.fileName, tt.headers, tt.sheet, tt.size)
			assert.Equal(t, tt.wantTpl, d.IsTemplate)
			assert.GreaterOrEqual(t, d.Confidence, tt.wantMin)
			assert.LessOrEqual(t, d.Confidence, tt.wantMax)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestDetectTemplateNoSignals(t *testing.T) {
	d := DetectTemplate("", nil, "", 0)
	assert.False(t, d.IsTemplate)
	assert.Equal(t, 0, d.Confidence)
	assert.Equal(t, "no template signals", d.Reason)
}

func TestCheckTemplateHeaders(t *testing.T) {
	require.NoError(t, CheckTemplateHeaders(spreadsheet.TemplateHeaders))

	err := CheckTemplateHeaders([]string{"Full Name*", "Phone Number"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingTemplateHeaders))

	var missing *MissingHeadersError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"Email Address*"}, missing.Missing)
	assert.Contains(t, err.Error(), "Email Address*")
}

func TestTemplatePredictions(t *testing.T) {
	headers := append(append([]string{}, spreadsheet.TemplateHeaders...), "Internal Id")
	preds := TemplatePredictions(headers)
	require.Len(t, preds, len(headers))

	want := []Field{FieldFullName, FieldEmail, FieldPhone, FieldContactType, FieldPosition, FieldFullAddress}
	for i, f := range want {
		require.NotNil(t, preds[i].TargetField, preds[i].SourceColumn)
		assert.Equal(t, f, *preds[i].TargetField)
		assert.Equal(t, 1.0, preds[i].Confidence)
	}
	assert.Nil(t, preds[6].TargetField)
}
