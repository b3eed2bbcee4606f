package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-import/internal/contacts"
	"github.com/ignite/contact-import/internal/datanorm"
	"github.com/ignite/contact-import/internal/importer"
	"github.com/ignite/contact-import/internal/spreadsheet"
	"github.com/ignite/contact-import/internal/storage"
)

type fakeSink struct {
	records []contacts.Record
	opts    contacts.BulkOptions
	result  contacts.BulkResult
	err     error
}

func (f *fakeSink) BulkCreate(_ context.Context, records []contacts.Record, opts contacts.BulkOptions) (contacts.BulkResult, error) {
	f.records = records
	f.opts = opts
	if f.err != nil {
		return contacts.BulkResult{}, f.err
	}
	if f.result.SuccessCount == 0 && f.result.FailedCount == 0 {
		return contacts.BulkResult{SuccessCount: len(records), Errors: []string{}}, nil
	}
	return f.result, nil
}

func csvFile(header string, lines ...string) []byte {
	return []byte(header + "\n" + strings.Join(lines, "\n") + "\n")
}

func peopleCSV(n int) []byte {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("Person %d,p%d@example.com", i, i)
	}
	return csvFile("Full Name,Email", lines...)
}

func newTestPipeline(t *testing.T, reader *spreadsheet.Reader) (*Pipeline, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewPipeline(PipelineOptions{Reader: reader, Store: store}), store
}

func TestPipelineUploadAndAnalyze(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	ctx := context.Background()

	s, err := p.Upload(ctx, New("s1"), peopleCSV(3), "people.csv")
	require.NoError(t, err)
	assert.Equal(t, StateAnalyzing, s.State)
	assert.True(t, strings.HasPrefix(s.ArchiveKey, "uploads/s1/"), s.ArchiveKey)
	assert.Equal(t, 3, s.Metadata.TotalRowCount)

	s, err = p.Analyze(ctx, s, "")
	require.NoError(t, err)
	assert.Equal(t, StateMapping, s.State)
	assert.False(t, s.Detection.IsTemplate)
	assert.Equal(t, datanorm.LangEnglish, s.Prediction.Language)
	assert.Equal(t, datanorm.ColumnMapping{"Full Name": datanorm.FieldFullName, "Email": datanorm.FieldEmail}, s.Mapping)
}

func TestPipelineUploadParseFailureKeepsState(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	start := New("s1")

	s, err := p.Upload(context.Background(), start, []byte("Full Name,Email\n"), "empty.csv")
	assert.ErrorIs(t, err, spreadsheet.ErrNoRows)
	assert.Equal(t, StateUpload, s.State)
	assert.Nil(t, s.Table)
}

func TestPipelineTemplateShortCircuit(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	ctx := context.Background()
	data := csvFile(strings.Join(spreadsheet.TemplateHeaders, ","), "Ada Lovelace,ada@example.com,,Individual,,")

	s, err := p.Upload(ctx, New("s1"), data, "contacts_import_template.csv")
	require.NoError(t, err)
	s, err = p.Analyze(ctx, s, "")
	require.NoError(t, err)

	assert.True(t, s.Detection.IsTemplate)
	assert.Equal(t, datanorm.FieldEmail, s.Mapping["Email Address*"])
	assert.Equal(t, datanorm.FieldContactType, s.Mapping["Contact Type (Individual / Company)"])
	for _, pred := range s.Prediction.Predictions {
		assert.Equal(t, 1.0, pred.Confidence)
	}
}

func TestPipelineTemplateMissingHeadersAborts(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	ctx := context.Background()
	headers := "Full Name*,Phone Number,Contact Type (Individual / Company),Position / Title,Full Address"

	s, err := p.Upload(ctx, New("s1"), csvFile(headers, "Ada,555,Individual,,"), "contacts_import_template.csv")
	require.NoError(t, err)

	s, err = p.Analyze(ctx, s, "")
	assert.ErrorIs(t, err, datanorm.ErrMissingTemplateHeaders)
	assert.ErrorContains(t, err, "Email Address*")
	assert.Equal(t, StateUpload, s.State)
	assert.Nil(t, s.Table)
}

func TestPipelineSubmitGrid(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	ctx := context.Background()

	e, err := New("s1").EnterEdit()
	require.NoError(t, err)
	s, err := p.SubmitGrid(ctx, e, []string{"Nom", "Courriel"}, [][]string{{"Jean Dupont", "jean@example.fr"}})
	require.NoError(t, err)
	s, err = p.Analyze(ctx, s, "fr")
	require.NoError(t, err)

	assert.Equal(t, datanorm.LangFrench, s.Prediction.Language)
	assert.Equal(t, datanorm.FieldFullName, s.Mapping["Nom"])
	assert.Equal(t, datanorm.FieldEmail, s.Mapping["Courriel"])
}

func uploadToPreview(t *testing.T, p *Pipeline, data []byte) Session {
	t.Helper()
	ctx := context.Background()
	s, err := p.Upload(ctx, New("s1"), data, "people.csv")
	require.NoError(t, err)
	s, err = p.Analyze(ctx, s, "")
	require.NoError(t, err)
	s, err = p.Preview(ctx, s)
	require.NoError(t, err)
	return s
}

func TestPipelineCommit(t *testing.T) {
	p, store := newTestPipeline(t, nil)
	ctx := context.Background()
	data := csvFile("Full Name,Email,Company",
		"John Doe,john@example.com,",
		"Jane Roe,bad-email,",
		",,Acme Corp",
		"John Again,john@example.com,",
	)
	s := uploadToPreview(t, p, data)
	require.Equal(t, 2, s.Preview.ValidRows)

	sink := &fakeSink{}
	next, result, err := p.Commit(ctx, s, sink, DefaultCommitOptions())
	require.NoError(t, err)

	require.Len(t, sink.records, 2)
	assert.Equal(t, "John Doe", sink.records[0].Name)
	assert.Equal(t, "Acme Corp", sink.records[1].Name)
	assert.Equal(t, contacts.TypeCompany, sink.records[1].Type)
	assert.True(t, sink.opts.SkipDuplicates)
	assert.False(t, sink.opts.UpdateExisting)

	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, StateUpload, next.State)
	assert.Equal(t, s.Generation+1, next.Generation)
	require.NotNil(t, next.LastCommit)
	assert.Equal(t, 2, next.LastCommit.Submitted)

	history, err := store.RecentCommits(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "s1", history[0].SessionID)
	assert.Equal(t, 2, history[0].Submitted)
	assert.Equal(t, s.ArchiveKey, history[0].ArchiveKey)
}

func TestPipelineCommitPartialFailureIsReturnedVerbatim(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	s := uploadToPreview(t, p, peopleCSV(3))

	sink := &fakeSink{result: contacts.BulkResult{SuccessCount: 2, FailedCount: 1, Errors: []string{"record 2 (Person 1): skipped existing contact"}}}
	next, result, err := p.Commit(context.Background(), s, sink, CommitOptions{UpdateExisting: true})
	require.NoError(t, err)
	assert.Equal(t, sink.result, result)
	assert.True(t, sink.opts.UpdateExisting)
	assert.Equal(t, StateUpload, next.State)
}

func TestPipelineCommitSinkError(t *testing.T) {
	p, store := newTestPipeline(t, nil)
	s := uploadToPreview(t, p, peopleCSV(3))

	sink := &fakeSink{err: errors.New("connection refused")}
	next, _, err := p.Commit(context.Background(), s, sink, DefaultCommitOptions())
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, StatePreview, next.State)
	assert.Equal(t, s.Generation, next.Generation)

	history, err := store.RecentCommits(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestPipelineCommitNothingSelected(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	s := uploadToPreview(t, p, peopleCSV(3))
	s, err := s.ToggleAll(false)
	require.NoError(t, err)

	sink := &fakeSink{}
	_, _, err = p.Commit(context.Background(), s, sink, DefaultCommitOptions())
	assert.ErrorIs(t, err, ErrNothingSelected)
	assert.Nil(t, sink.records)
}

func TestPipelineCommitLargeDatasetRevalidatesFullFile(t *testing.T) {
	reader := spreadsheet.NewReader(spreadsheet.ReaderOptions{PreviewThreshold: 10, SampleSize: 5})
	p, _ := newTestPipeline(t, reader)
	ctx := context.Background()

	lines := make([]string, 20)
	for i := range lines {
		email := fmt.Sprintf("p%d@example.com", i)
		if i == 12 || i == 13 {
			email = "p0@example.com"
		}
		lines[i] = fmt.Sprintf("Person %d,%s", i, email)
	}
	s := uploadToPreview(t, p, csvFile("Full Name,Email", lines...))

	require.True(t, s.Preview.IsLargeDataset)
	require.Equal(t, 20, s.Preview.TotalRows)
	require.Equal(t, 5, s.Preview.PreviewRows)
	dup, ok := s.Preview.Row("row-12")
	require.True(t, ok)
	require.Equal(t, "row-0", dup.DuplicateOf)

	s, err := s.ToggleRow("row-4")
	require.NoError(t, err)
	s, err = s.DeleteDuplicates([]string{"row-12"})
	require.NoError(t, err)

	sink := &fakeSink{}
	_, result, err := p.Commit(ctx, s, sink, DefaultCommitOptions())
	require.NoError(t, err)

	names := make([]string, len(sink.records))
	for i, r := range sink.records {
		names[i] = r.Name
	}
	assert.Len(t, names, 17)
	assert.Equal(t, 17, result.SuccessCount)
	assert.Equal(t, "Person 0", names[0])
	assert.Contains(t, names, "Person 19")
	assert.NotContains(t, names, "Person 4")
	assert.NotContains(t, names, "Person 12")
	assert.NotContains(t, names, "Person 13")
}

func TestPipelineCommitLargeDatasetCatchesDuplicatesOutsideSample(t *testing.T) {
	reader := spreadsheet.NewReader(spreadsheet.ReaderOptions{PreviewThreshold: 10, SampleSize: 5})
	p, _ := newTestPipeline(t, reader)

	lines := make([]string, 20)
	for i := range lines {
		email := fmt.Sprintf("p%d@example.com", i)
		if i == 4 {
			email = "p3@example.com"
		}
		lines[i] = fmt.Sprintf("Person %d,%s", i, email)
	}
	s := uploadToPreview(t, p, csvFile("Full Name,Email", lines...))

	require.True(t, s.Preview.IsLargeDataset)
	_, sampled := s.Preview.Row("row-3")
	require.False(t, sampled, "row-3 sits outside the sample")
	inSample, ok := s.Preview.Row("row-4")
	require.True(t, ok)
	require.Equal(t, importer.StatusValid, inSample.Status, "no earlier match inside the sample")

	sink := &fakeSink{}
	committed, result, err := p.Commit(context.Background(), s, sink, DefaultCommitOptions())
	require.NoError(t, err)

	var matches []string
	for _, r := range sink.records {
		if r.Email == "p3@example.com" {
			matches = append(matches, r.Name)
		}
	}
	assert.Equal(t, []string{"Person 3"}, matches)
	assert.Equal(t, 19, result.SuccessCount)
	require.NotNil(t, committed.LastCommit)
	assert.Equal(t, 19, committed.LastCommit.Submitted)
}
