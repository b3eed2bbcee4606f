package datanorm

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/ignite/contact-import/internal/spreadsheet"
)

// ErrMissingTemplateHeaders is returned when a file recognized as the import
// template lacks one of the required starred headers.
var ErrMissingTemplateHeaders = errors.New("template is missing required headers")

const (
	templateThreshold = 60

	scoreFileName      = 30
	scoreSheetName     = 20
	scoreExactHeaders  = 40
	scorePartialHeader = 20
	scoreSmallFile     = 10

	partialHeaderMin  = 4
	smallFileMaxBytes = 10 * 1024
)

// templateFields is the fixed dictionary applied to template files.
var templateFields = map[string]Field{
	"Full Name*":                          FieldFullName,
	"Email Address*":                      FieldEmail,
	"Phone Number":                        FieldPhone,
	"Contact Type (Individual / Company)": FieldContactType,
	"Position / Title":                    FieldPosition,
	"Full Address":                        FieldFullAddress,
}

// Detection is the result of scoring a file against the canonical template.
type Detection struct {
	IsTemplate bool   `json:"isTemplate"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}

// DetectTemplate scores an upload against the canonical import template. It
// always returns a result; a total mismatch scores 0.
func DetectTemplate(fileName string, headers []string, sheetName string, fileSizeBytes int64) Detection {
	var (
		score   int
		reasons []string
	)

	canonical := strings.TrimSuffix(spreadsheet.TemplateFileName, filepath.Ext(spreadsheet.TemplateFileName))
	name := strings.ToLower(strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName)))
	if name != "" && (name == canonical || strings.Contains(name, canonical)) {
		score += scoreFileName
		reasons = append(reasons, "filename matches template")
	}

	if sheetName == spreadsheet.TemplateSheetName {
		score += scoreSheetName
		reasons = append(reasons, "sheet name matches template")
	}

	if exactHeaders(headers) {
		score += scoreExactHeaders
		reasons = append(reasons, "headers match template exactly")
	} else if n := templateHeadersPresent(headers); n >= partialHeaderMin {
		score += scorePartialHeader
		reasons = append(reasons, "most template headers present")
	}

	if fileSizeBytes > 0 && fileSizeBytes < smallFileMaxBytes {
		score += scoreSmallFile
		reasons = append(reasons, "file is small")
	}

	d := Detection{Confidence: score, IsTemplate: score >= templateThreshold}
	if len(reasons) == 0 {
		d.Reason = "no template signals"
	} else {
		d.Reason = strings.Join(reasons, "; ")
	}
	return d
}

func exactHeaders(headers []string) bool {
	if len(headers) != len(spreadsheet.TemplateHeaders) {
		return false
	}
	for i, h := range spreadsheet.TemplateHeaders {
		if headers[i] != h {
			return false
		}
	}
	return true
}

func templateHeadersPresent(headers []string) int {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}
	n := 0
	for _, h := range spreadsheet.TemplateHeaders {
		if present[h] {
			n++
		}
	}
	return n
}

// CheckTemplateHeaders verifies that a template upload carries the required
// starred headers.
func CheckTemplateHeaders(headers []string) error {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}
	var missing []string
	for _, h := range spreadsheet.RequiredTemplateHeaders {
		if !present[h] {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return &MissingHeadersError{Missing: missing}
	}
	return nil
}

// MissingHeadersError lists the required template headers absent from a file.
type MissingHeadersError struct {
	Missing []string
}

func (e *MissingHeadersError) Error() string {
	return ErrMissingTemplateHeaders.Error() + ": " + strings.Join(e.Missing, ", ")
}

func (e *MissingHeadersError) Unwrap() error { return ErrMissingTemplateHeaders }

// TemplatePredictions maps template headers through the fixed dictionary with
// full confidence. Headers outside the template are left unmapped.
func TemplatePredictions(headers []string) []Prediction {
	out := make([]Prediction, 0, len(headers))
	for _, h := range headers {
		if f, ok := templateFields[h]; ok {
			out = append(out, Prediction{SourceColumn: h, TargetField: fieldPtr(f), Confidence: 1.0, Reasoning: "template column"})
			continue
		}
		out = append(out, Prediction{SourceColumn: h, Confidence: 1.0, Reasoning: "not a template column"})
	}
	return out
}
