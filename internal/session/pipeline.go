package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ignite/contact-import/internal/contacts"
	"github.com/ignite/contact-import/internal/datanorm"
	"github.com/ignite/contact-import/internal/importer"
	"github.com/ignite/contact-import/internal/spreadsheet"
	"github.com/ignite/contact-import/internal/storage"
)

// mapperSampleRows is how many rows the mapper sees for language detection
// and the inference prompt.
const mapperSampleRows = 5

// CommitOptions are passed through to the sink.
type CommitOptions struct {
	SkipDuplicates bool `json:"skipDuplicates"`
	UpdateExisting bool `json:"updateExisting"`
}

// DefaultCommitOptions skips contacts that already exist.
func DefaultCommitOptions() CommitOptions {
	return CommitOptions{SkipDuplicates: true}
}

// PipelineOptions wires the collaborators of a Pipeline. Nil fields get
// working defaults.
type PipelineOptions struct {
	Reader  *spreadsheet.Reader
	Mapper  *datanorm.Mapper
	Store   storage.Store
	Preview PreviewOptions
	Logger  *zap.Logger
}

// Pipeline runs the stages of an import over Session values. It holds no
// per-session state.
type Pipeline struct {
	reader  *spreadsheet.Reader
	mapper  *datanorm.Mapper
	store   storage.Store
	preview PreviewOptions
	logger  *zap.Logger
}

func NewPipeline(opts PipelineOptions) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Reader == nil {
		opts.Reader = spreadsheet.NewReader(spreadsheet.ReaderOptions{})
	}
	if opts.Mapper == nil {
		opts.Mapper = datanorm.NewMapper(nil, opts.Logger)
	}
	if opts.Store == nil {
		opts.Store = storage.Nop{}
	}
	if opts.Preview.Budget.AvailableBytes == 0 {
		opts.Preview.Budget = spreadsheet.DefaultMemoryBudget()
	}
	if opts.Preview.SampleSize <= 0 {
		opts.Preview.SampleSize = spreadsheet.DefaultSampleSize
	}
	return &Pipeline{
		reader:  opts.Reader,
		mapper:  opts.Mapper,
		store:   opts.Store,
		preview: opts.Preview,
		logger:  opts.Logger.Named("session"),
	}
}

// Upload parses an uploaded file and moves the session into analysis. A parse
// failure leaves the session untouched. The original bytes are archived on a
// best-effort basis.
func (p *Pipeline) Upload(ctx context.Context, s Session, data []byte, fileName string) (Session, error) {
	if err := s.require(StateAnalyzing, StateUpload); err != nil {
		return s, err
	}
	table, meta, err := p.reader.Parse(data, fileName)
	if err != nil {
		return s, err
	}
	out, err := s.Begin(table, meta, fileName)
	if err != nil {
		return s, err
	}

	key, err := p.store.PutUpload(ctx, s.ID, fileName, data)
	if err != nil {
		p.logger.Warn("archive upload failed",
			zap.String("session_id", s.ID), zap.String("file", fileName), zap.Error(err))
	} else {
		out.ArchiveKey = key
	}

	p.logger.Info("file parsed",
		zap.String("session_id", s.ID),
		zap.String("file", fileName),
		zap.Int("rows", meta.TotalRowCount),
		zap.Bool("large", meta.IsLargeDataset),
		zap.Strings("duplicate_headers", meta.DuplicateHeaders))
	return out, nil
}

// SubmitGrid takes manually entered cells into analysis.
func (p *Pipeline) SubmitGrid(_ context.Context, s Session, headers []string, rows [][]string) (Session, error) {
	if err := s.require(StateAnalyzing, StateEdit); err != nil {
		return s, err
	}
	table, meta, err := p.reader.FromGrid(headers, rows)
	if err != nil {
		return s, err
	}
	return s.Begin(table, meta, "")
}

// Analyze detects the template and predicts the column mapping. A template
// missing its required headers aborts the stage.
func (p *Pipeline) Analyze(ctx context.Context, s Session, languageHint string) (Session, error) {
	if err := s.require(StateMapping, StateAnalyzing); err != nil {
		return s, err
	}

	var size int64
	if s.Metadata != nil {
		size = s.Metadata.FileSizeBytes
	}
	detection := datanorm.DetectTemplate(s.FileName, s.Table.Headers, s.Table.SheetName, size)
	if detection.IsTemplate {
		if err := datanorm.CheckTemplateHeaders(s.Table.Headers); err != nil {
			aborted, _ := s.Abort()
			return aborted, err
		}
	}

	sample := s.Table.SampleRows(mapperSampleRows)
	rows := make([]map[string]string, len(sample))
	for i, r := range sample {
		rows[i] = r
	}
	prediction := p.mapper.Predict(ctx, datanorm.PredictInput{
		Headers:      s.Table.Headers,
		SampleRows:   rows,
		LanguageHint: languageHint,
		IsTemplate:   detection.IsTemplate,
	})

	p.logger.Info("mapping predicted",
		zap.String("session_id", s.ID),
		zap.Bool("template", detection.IsTemplate),
		zap.Int("template_confidence", detection.Confidence),
		zap.String("language", string(prediction.Language)),
		zap.Bool("ai_used", prediction.AIUsed))
	return s.Analyzed(detection, prediction)
}

// Preview validates the table under the session's mapping.
func (p *Pipeline) Preview(ctx context.Context, s Session) (Session, error) {
	return s.StartPreview(ctx, p.preview)
}

// Commit sends the selected valid rows to sink. A sampled preview is
// re-validated over every row of the file with the reviewed decisions laid
// over it, so rows outside the sample are committed too. Partial sink
// failures count as success; the session starts over either way.
func (p *Pipeline) Commit(ctx context.Context, s Session, sink contacts.Sink, opts CommitOptions) (Session, contacts.BulkResult, error) {
	if err := s.require(StateUpload, StatePreview); err != nil {
		return s, contacts.BulkResult{}, err
	}

	batch, err := p.commitBatch(ctx, s)
	if err != nil {
		return s, contacts.BulkResult{}, err
	}
	rows := batch.Selected()
	if len(rows) == 0 {
		return s, contacts.BulkResult{}, ErrNothingSelected
	}

	records := make([]contacts.Record, len(rows))
	for i, r := range rows {
		records[i] = contacts.FromRow(r.Data)
	}

	result, err := sink.BulkCreate(ctx, records, contacts.BulkOptions{
		SkipDuplicates: opts.SkipDuplicates,
		UpdateExisting: opts.UpdateExisting,
	})
	if err != nil {
		return s, contacts.BulkResult{}, fmt.Errorf("commit contacts: %w", err)
	}

	now := time.Now().UTC()
	rec := storage.CommitRecord{
		ID:           uuid.NewString(),
		SessionID:    s.ID,
		FileName:     s.FileName,
		ArchiveKey:   s.ArchiveKey,
		TotalRows:    batch.TotalRows,
		Submitted:    len(records),
		SuccessCount: result.SuccessCount,
		FailedCount:  result.FailedCount,
		AIUsed:       s.Prediction != nil && s.Prediction.AIUsed,
		CommittedAt:  now,
	}
	if err := p.store.RecordCommit(ctx, rec); err != nil {
		p.logger.Warn("record commit history failed", zap.String("session_id", s.ID), zap.Error(err))
	}

	p.logger.Info("import committed",
		zap.String("session_id", s.ID),
		zap.Int("submitted", len(records)),
		zap.Int("success", result.SuccessCount),
		zap.Int("failed", result.FailedCount))

	out, err := s.Committed(CommitSummary{FileName: s.FileName, Submitted: len(records), Result: result, At: now})
	return out, result, err
}

func (p *Pipeline) commitBatch(ctx context.Context, s Session) (*importer.Preview, error) {
	if !s.Preview.IsLargeDataset {
		return s.Preview, nil
	}
	full, err := importer.BuildPreviewContext(ctx, s.Table.All, s.Mapping, importer.WithHeaders(s.Table.Headers))
	if err != nil {
		return nil, err
	}
	return importer.ApplyDecisions(full, s.Preview), nil
}
