package importer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ignite/contact-import/internal/datanorm"
	"github.com/ignite/contact-import/internal/spreadsheet"
)

const (
	chunkSize = 1000

	msgEmptyRow      = "Row contains no data"
	msgMissingAnchor = "Missing required field: Full Name or Company Name"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?\d+$`)
	phoneNoise   = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

type options struct {
	headers       []string
	indexes       []int
	originalTotal int
	budget        spreadsheet.MemoryBudget
	sampleSize    int
}

// Option tunes BuildPreview.
type Option func(*options)

// WithHeaders fixes the header order used when two headers map to the same
// field. Without it headers are taken in lexical order.
func WithHeaders(headers []string) Option {
	return func(o *options) { o.headers = headers }
}

// WithIndexes gives the original position of every input row, for rows that
// were already sampled from a larger file.
func WithIndexes(indexes []int) Option {
	return func(o *options) { o.indexes = indexes }
}

// WithOriginalTotal records the unsampled row count of the source.
func WithOriginalTotal(n int) Option {
	return func(o *options) { o.originalTotal = n }
}

// WithMemoryBudget down-samples the rows to sampleSize when materializing
// them would not fit b.
func WithMemoryBudget(b spreadsheet.MemoryBudget, sampleSize int) Option {
	return func(o *options) {
		o.budget = b
		if sampleSize > 0 {
			o.sampleSize = sampleSize
		}
	}
}

// BuildPreview validates and deduplicates rows under mapping. Identical inputs
// always produce identical previews.
func BuildPreview(rows []spreadsheet.Row, mapping datanorm.ColumnMapping, opts ...Option) *Preview {
	p, _ := BuildPreviewContext(context.Background(), rows, mapping, opts...)
	return p
}

// BuildPreviewContext is BuildPreview with cancellation checked between
// chunks of rows.
func BuildPreviewContext(ctx context.Context, rows []spreadsheet.Row, mapping datanorm.ColumnMapping, opts ...Option) (*Preview, error) {
	o := options{sampleSize: spreadsheet.DefaultSampleSize}
	for _, opt := range opts {
		opt(&o)
	}

	indexes := o.indexes
	if len(indexes) != len(rows) {
		indexes = make([]int, len(rows))
		for i := range indexes {
			indexes[i] = i
		}
	}

	total := len(rows)
	large := false
	if o.originalTotal > total {
		total = o.originalTotal
		large = true
	}

	if len(rows) > o.sampleSize && o.budget.Exceeds(rows) {
		picked := spreadsheet.SystematicSample(len(rows), o.sampleSize)
		sampled := make([]spreadsheet.Row, len(picked))
		sampledIdx := make([]int, len(picked))
		for i, at := range picked {
			sampled[i] = rows[at]
			sampledIdx[i] = indexes[at]
		}
		rows, indexes = sampled, sampledIdx
		large = true
	}

	cols := mappedColumns(mapping, o.headers)

	out := make([]Row, len(rows))
	for i, raw := range rows {
		if i%chunkSize == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		out[i] = classify(raw, indexes[i], cols)
	}

	markDuplicates(out)

	p := &Preview{Rows: out, TotalRows: total, IsLargeDataset: large}
	p.Recount()
	return p, nil
}

type column struct {
	header string
	field  datanorm.Field
}

// mappedColumns lists mapped headers in the given order, followed by any
// remaining mapped headers in lexical order.
func mappedColumns(mapping datanorm.ColumnMapping, headers []string) []column {
	cols := make([]column, 0, len(mapping))
	used := make(map[string]bool, len(mapping))
	for _, h := range headers {
		if f, ok := mapping[h]; ok && !used[h] {
			cols = append(cols, column{header: h, field: f})
			used[h] = true
		}
	}
	var rest []string
	for h := range mapping {
		if !used[h] {
			rest = append(rest, h)
		}
	}
	sort.Strings(rest)
	for _, h := range rest {
		cols = append(cols, column{header: h, field: mapping[h]})
	}
	return cols
}

func rowID(originalIndex int) string {
	return fmt.Sprintf("row-%d", originalIndex)
}

func classify(raw spreadsheet.Row, originalIndex int, cols []column) Row {
	r := Row{
		ID:            rowID(originalIndex),
		OriginalIndex: originalIndex,
		Data:          make(map[datanorm.Field]string),
	}
	for _, c := range cols {
		if _, set := r.Data[c.field]; set {
			continue
		}
		if v := strings.TrimSpace(raw[c.header]); v != "" {
			r.Data[c.field] = v
		}
	}

	switch {
	case len(r.Data) == 0:
		r.Status = StatusEmpty
		r.Errors = append(r.Errors, msgEmptyRow)
		return r
	case r.Data[datanorm.FieldFullName] == "" && r.Data[datanorm.FieldCompanyName] == "":
		r.Status = StatusInvalid
		r.Errors = append(r.Errors, msgMissingAnchor)
	default:
		r.Status = StatusValid
	}

	if email, ok := r.Data[datanorm.FieldEmail]; ok && !emailPattern.MatchString(email) {
		r.Status = StatusInvalid
		r.Errors = append(r.Errors, "Invalid email format: "+email)
	}
	if phone, ok := r.Data[datanorm.FieldPhone]; ok && !phonePattern.MatchString(phoneNoise.Replace(phone)) {
		r.Warnings = append(r.Warnings, "Invalid phone format: "+phone)
	}

	r.Selected = r.Status == StatusValid
	return r
}

var dedupeFields = []struct {
	field  datanorm.Field
	prefix string
}{
	{datanorm.FieldEmail, "email:"},
	{datanorm.FieldFullName, "name:"},
	{datanorm.FieldCompanyName, "company:"},
}

type firstSeen struct {
	id    string
	index int
}

// markDuplicates flags every valid row sharing an email, name or company with
// an earlier valid row. The earliest row wins.
func markDuplicates(rows []Row) {
	seen := make(map[string]firstSeen)
	for i := range rows {
		r := &rows[i]
		if r.Status != StatusValid {
			continue
		}

		var (
			keys   []string
			first  firstSeen
			fields []datanorm.Field
		)
		for _, df := range dedupeFields {
			v, ok := r.Data[df.field]
			if !ok {
				continue
			}
			key := df.prefix + strings.ToLower(strings.TrimSpace(v))
			keys = append(keys, key)
			prior, hit := seen[key]
			if !hit {
				continue
			}
			if first.id == "" {
				first = prior
			}
			if prior.id == first.id {
				fields = append(fields, df.field)
			}
		}

		if first.id == "" {
			for _, k := range keys {
				seen[k] = firstSeen{id: r.ID, index: r.OriginalIndex}
			}
			continue
		}

		r.Status = StatusDuplicate
		r.Selected = false
		r.DuplicateOf = first.id
		r.DuplicateFields = fields
		names := make([]string, len(fields))
		for j, f := range fields {
			names[j] = string(f)
		}
		r.Warnings = append(r.Warnings, fmt.Sprintf("Duplicate of row %d (%s)", first.index+1, strings.Join(names, ", ")))
	}
}
