// Package session drives one contact import from upload to commit. A Session
// is an immutable snapshot: every transition returns a new value and leaves
// the receiver untouched, so a Manager can run slow stages on a snapshot and
// decide afterwards whether the result still applies.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ignite/contact-import/internal/contacts"
	"github.com/ignite/contact-import/internal/datanorm"
	"github.com/ignite/contact-import/internal/importer"
	"github.com/ignite/contact-import/internal/spreadsheet"
)

// State is a stage of the import.
type State string

const (
	StateUpload    State = "upload"
	StateAnalyzing State = "analyzing"
	StateMapping   State = "mapping"
	StatePreview   State = "preview"
	StateEdit      State = "edit"
)

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrNoAnchorMapped    = errors.New("map Full Name or Company Name before previewing")
	ErrUnknownHeader     = errors.New("unknown column header")
	ErrUnknownField      = errors.New("unknown contact field")
	ErrStale             = errors.New("import session changed while the operation was running")
	ErrNotFound          = errors.New("import session not found")
	ErrNothingSelected   = errors.New("no valid rows selected for import")
)

// CommitSummary records the outcome of the last commit of a session.
type CommitSummary struct {
	FileName  string              `json:"fileName"`
	Submitted int                 `json:"submitted"`
	Result    contacts.BulkResult `json:"result"`
	At        time.Time           `json:"at"`
}

// Session holds at most one table, one mapping and one preview.
type Session struct {
	ID         string `json:"id"`
	State      State  `json:"state"`
	Generation int    `json:"generation"`

	// Origin is the state Begin was called from; a failed analysis returns there.
	Origin     State                      `json:"origin,omitempty"`
	FileName   string                     `json:"fileName,omitempty"`
	ArchiveKey string                     `json:"archiveKey,omitempty"`
	Table      *spreadsheet.Table         `json:"table,omitempty"`
	Metadata   *spreadsheet.Metadata      `json:"metadata,omitempty"`
	Detection  *datanorm.Detection        `json:"detection,omitempty"`
	Prediction *datanorm.PredictionResult `json:"prediction,omitempty"`
	Mapping    datanorm.ColumnMapping     `json:"mapping,omitempty"`
	Preview    *importer.Preview          `json:"preview,omitempty"`
	LastCommit *CommitSummary             `json:"lastCommit,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New returns an empty session in the upload state.
func New(id string) Session {
	now := time.Now().UTC()
	return Session{ID: id, State: StateUpload, CreatedAt: now, UpdatedAt: now}
}

func (s Session) require(to State, from ...State) error {
	if slices.Contains(from, s.State) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
}

func (s Session) touched() Session {
	s.UpdatedAt = time.Now().UTC()
	return s
}

// Begin takes a parsed table into analysis.
func (s Session) Begin(table *spreadsheet.Table, meta spreadsheet.Metadata, fileName string) (Session, error) {
	if err := s.require(StateAnalyzing, StateUpload, StateEdit); err != nil {
		return s, err
	}
	out := s.cleared()
	out.State = StateAnalyzing
	out.Origin = s.State
	out.FileName = fileName
	out.Table = table
	out.Metadata = &meta
	return out.touched(), nil
}

// Abort drops the file under analysis and returns to the state it came from.
func (s Session) Abort() (Session, error) {
	if err := s.require(StateUpload, StateAnalyzing); err != nil {
		return s, err
	}
	out := s.cleared()
	out.State = s.Origin
	if out.State == "" {
		out.State = StateUpload
	}
	return out.touched(), nil
}

// Analyzed records the template detection and mapping prediction.
func (s Session) Analyzed(detection datanorm.Detection, prediction datanorm.PredictionResult) (Session, error) {
	if err := s.require(StateMapping, StateAnalyzing); err != nil {
		return s, err
	}
	out := s
	out.State = StateMapping
	out.Detection = &detection
	out.Prediction = &prediction
	out.Mapping = prediction.Mapping()
	return out.touched(), nil
}

// SetMapping maps header onto field, or unmaps it when field is nil.
func (s Session) SetMapping(header string, field *datanorm.Field) (Session, error) {
	if err := s.require(StateMapping, StateMapping); err != nil {
		return s, err
	}
	if !slices.Contains(s.Table.Headers, header) {
		return s, fmt.Errorf("%w: %q", ErrUnknownHeader, header)
	}
	if field != nil && !field.Valid() {
		return s, fmt.Errorf("%w: %q", ErrUnknownField, *field)
	}
	out := s
	out.Mapping = s.Mapping.Clone()
	if out.Mapping == nil {
		out.Mapping = datanorm.ColumnMapping{}
	}
	if field == nil {
		delete(out.Mapping, header)
	} else {
		out.Mapping[header] = *field
	}
	return out.touched(), nil
}

// PreviewOptions bounds the memory a preview may use.
type PreviewOptions struct {
	Budget     spreadsheet.MemoryBudget
	SampleSize int
}

// StartPreview validates the table under the current mapping.
func (s Session) StartPreview(ctx context.Context, opts PreviewOptions) (Session, error) {
	if err := s.require(StatePreview, StateMapping); err != nil {
		return s, err
	}
	if !s.Mapping.HasAnchor() {
		return s, ErrNoAnchorMapped
	}

	buildOpts := []importer.Option{
		importer.WithHeaders(s.Table.Headers),
		importer.WithIndexes(s.Table.Indexes()),
		importer.WithOriginalTotal(len(s.Table.All)),
	}
	if opts.Budget.AvailableBytes > 0 {
		buildOpts = append(buildOpts, importer.WithMemoryBudget(opts.Budget, opts.SampleSize))
	}
	preview, err := importer.BuildPreviewContext(ctx, s.Table.Rows(), s.Mapping, buildOpts...)
	if err != nil {
		return s, err
	}

	out := s
	out.State = StatePreview
	out.Preview = preview
	return out.touched(), nil
}

func (s Session) withPreview(p *importer.Preview) Session {
	out := s
	out.Preview = p
	return out.touched()
}

// ToggleRow flips the selection of one valid row.
func (s Session) ToggleRow(id string) (Session, error) {
	if err := s.require(StatePreview, StatePreview); err != nil {
		return s, err
	}
	p, err := s.Preview.ToggleRow(id)
	if err != nil {
		return s, fmt.Errorf("%w: %s", err, id)
	}
	return s.withPreview(p), nil
}

// ToggleAll selects or deselects every valid row.
func (s Session) ToggleAll(selected bool) (Session, error) {
	if err := s.require(StatePreview, StatePreview); err != nil {
		return s, err
	}
	return s.withPreview(s.Preview.SetAllSelected(selected)), nil
}

// KeepDuplicates promotes duplicates to valid, selected rows.
func (s Session) KeepDuplicates(ids []string) (Session, error) {
	if err := s.require(StatePreview, StatePreview); err != nil {
		return s, err
	}
	return s.withPreview(s.Preview.KeepDuplicates(ids)), nil
}

// DeleteDuplicates removes duplicates from the batch.
func (s Session) DeleteDuplicates(ids []string) (Session, error) {
	if err := s.require(StatePreview, StatePreview); err != nil {
		return s, err
	}
	return s.withPreview(s.Preview.DeleteDuplicates(ids)), nil
}

// BackToMapping discards the preview and keeps the mapping.
func (s Session) BackToMapping() (Session, error) {
	if err := s.require(StateMapping, StatePreview); err != nil {
		return s, err
	}
	out := s
	out.State = StateMapping
	out.Preview = nil
	return out.touched(), nil
}

// EnterEdit switches an empty session to manual grid entry.
func (s Session) EnterEdit() (Session, error) {
	if err := s.require(StateEdit, StateUpload); err != nil {
		return s, err
	}
	out := s
	out.State = StateEdit
	return out.touched(), nil
}

// Reset discards everything and starts a new generation. Results of work
// started on an older generation are dropped.
func (s Session) Reset() Session {
	out := New(s.ID)
	out.Generation = s.Generation + 1
	out.CreatedAt = s.CreatedAt
	return out
}

// Committed ends the import after the sink accepted it.
func (s Session) Committed(summary CommitSummary) (Session, error) {
	if err := s.require(StateUpload, StatePreview); err != nil {
		return s, err
	}
	out := s.Reset()
	out.LastCommit = &summary
	return out, nil
}

// cleared keeps identity and history but drops all import data.
func (s Session) cleared() Session {
	return Session{
		ID:         s.ID,
		State:      s.State,
		Generation: s.Generation,
		LastCommit: s.LastCommit,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}
