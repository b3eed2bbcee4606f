package spreadsheet

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// Canonical import template.
const (
	TemplateFileName  = "contacts_import_template.xlsx"
	TemplateSheetName = "Contacts"
	TemplateMarker    = "CONTACT_IMPORT_TEMPLATE_V1"

	templateMetaSheet = "_meta"
)

// TemplateHeaders is the exact header row of the canonical template. The
// starred headers are required for a structured import.
var TemplateHeaders = []string{
	"Full Name*",
	"Email Address*",
	"Phone Number",
	"Contact Type (Individual / Company)",
	"Position / Title",
	"Full Address",
}

// RequiredTemplateHeaders must be present when a file is imported as a template.
var RequiredTemplateHeaders = []string{"Full Name*", "Email Address*"}

// WriteTemplate writes the canonical template workbook to w: the header row on
// the Contacts sheet and a hidden sheet carrying the template marker.
func WriteTemplate(w io.Writer) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", TemplateSheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	headers := make([]interface{}, len(TemplateHeaders))
	for i, h := range TemplateHeaders {
		headers[i] = h
	}
	if err := f.SetSheetRow(TemplateSheetName, "A1", &headers); err != nil {
		return fmt.Errorf("write headers: %w", err)
	}
	if err := f.SetColWidth(TemplateSheetName, "A", "F", 30); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	if _, err := f.NewSheet(templateMetaSheet); err != nil {
		return fmt.Errorf("create marker sheet: %w", err)
	}
	if err := f.SetCellValue(templateMetaSheet, "A1", TemplateMarker); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	if err := f.SetSheetVisible(templateMetaSheet, false); err != nil {
		return fmt.Errorf("hide marker sheet: %w", err)
	}
	f.SetActiveSheet(0)

	return f.Write(w)
}
