package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ignite/contact-import/internal/contacts"
	"github.com/ignite/contact-import/internal/datanorm"
	"github.com/ignite/contact-import/internal/importer"
	"github.com/ignite/contact-import/internal/pkg/distlock"
	"github.com/ignite/contact-import/internal/pkg/httputil"
	"github.com/ignite/contact-import/internal/session"
	"github.com/ignite/contact-import/internal/spreadsheet"
	"github.com/ignite/contact-import/internal/storage"
)

const (
	defaultRowLimit = 50
	maxRowLimit     = 500

	// multipartOverhead is allowed on top of the file size limit for the
	// multipart envelope and form fields.
	multipartOverhead = 1 << 20

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ImportDeps wires the import endpoints.
type ImportDeps struct {
	Manager        *session.Manager
	Sink           contacts.Sink
	Locker         *distlock.Locker
	History        storage.History
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// ImportHandlers exposes the import session over HTTP.
type ImportHandlers struct {
	manager   *session.Manager
	sink      contacts.Sink
	locker    *distlock.Locker
	history   storage.History
	maxUpload int64
	logger    *zap.Logger
}

func NewImportHandlers(d ImportDeps) *ImportHandlers {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Locker == nil {
		d.Locker = distlock.NewLocker(nil, nil, 0)
	}
	if d.History == nil {
		d.History = storage.Nop{}
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = spreadsheet.MaxFileSize
	}
	return &ImportHandlers{
		manager:   d.Manager,
		sink:      d.Sink,
		locker:    d.Locker,
		history:   d.History,
		maxUpload: d.MaxUploadBytes,
		logger:    d.Logger.Named("api"),
	}
}

// RegisterRoutes mounts the import endpoints under /imports.
func (h *ImportHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/imports", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/template", h.HandleTemplate)
		r.Get("/history", h.HandleHistory)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Delete("/", h.HandleReset)
			r.Post("/file", h.HandleUpload)
			r.Post("/edit", h.HandleEdit)
			r.Post("/grid", h.HandleGrid)
			r.Put("/mapping", h.HandleMapping)
			r.Post("/preview", h.HandlePreview)
			r.Get("/rows", h.HandleRows)
			r.Post("/rows/select", h.HandleSelectAll)
			r.Post("/rows/{rowID}/toggle", h.HandleToggleRow)
			r.Post("/duplicates/keep", h.HandleKeepDuplicates)
			r.Post("/duplicates/delete", h.HandleDeleteDuplicates)
			r.Post("/back", h.HandleBack)
			r.Post("/commit", h.HandleCommit)
		})
	})
}

// sessionView is the client representation of a session. Rows are served
// separately through /rows.
type sessionView struct {
	ID         string                     `json:"id"`
	State      session.State              `json:"state"`
	Generation int                        `json:"generation"`
	FileName   string                     `json:"fileName,omitempty"`
	Headers    []string                   `json:"headers,omitempty"`
	Metadata   *spreadsheet.Metadata      `json:"metadata,omitempty"`
	Detection  *datanorm.Detection        `json:"detection,omitempty"`
	Prediction *datanorm.PredictionResult `json:"prediction,omitempty"`
	Mapping    datanorm.ColumnMapping     `json:"mapping,omitempty"`
	Preview    *previewSummary            `json:"preview,omitempty"`
	LastCommit *session.CommitSummary     `json:"lastCommit,omitempty"`
	UpdatedAt  time.Time                  `json:"updatedAt"`
}

type previewSummary struct {
	TotalRows      int  `json:"totalRows"`
	PreviewRows    int  `json:"previewRows"`
	ValidRows      int  `json:"validRows"`
	InvalidRows    int  `json:"invalidRows"`
	DuplicateRows  int  `json:"duplicateRows"`
	EmptyRows      int  `json:"emptyRows"`
	SelectedRows   int  `json:"selectedRows"`
	IsLargeDataset bool `json:"isLargeDataset"`
}

func newSessionView(s session.Session) sessionView {
	v := sessionView{
		ID:         s.ID,
		State:      s.State,
		Generation: s.Generation,
		FileName:   s.FileName,
		Metadata:   s.Metadata,
		Detection:  s.Detection,
		Prediction: s.Prediction,
		Mapping:    s.Mapping,
		LastCommit: s.LastCommit,
		UpdatedAt:  s.UpdatedAt,
	}
	if s.Table != nil {
		v.Headers = s.Table.Headers
	}
	if p := s.Preview; p != nil {
		v.Preview = &previewSummary{
			TotalRows:      p.TotalRows,
			PreviewRows:    p.PreviewRows,
			ValidRows:      p.ValidRows,
			InvalidRows:    p.InvalidRows,
			DuplicateRows:  p.DuplicateRows,
			EmptyRows:      p.EmptyRows,
			SelectedRows:   len(p.Selected()),
			IsLargeDataset: p.IsLargeDataset,
		}
	}
	return v
}

// respond writes the session or the error of the transition that produced it.
func (h *ImportHandlers) respond(w http.ResponseWriter, s session.Session, err error) {
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	httputil.OK(w, newSessionView(s))
}

// decodeOptional decodes a JSON body when one was sent.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return httputil.Decode(w, r, dst)
}

// HandleCreate starts a new import session.
//
//	POST /api/imports
func (h *ImportHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Create(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	httputil.Created(w, newSessionView(s))
}

// HandleTemplate downloads the canonical import template.
//
//	GET /api/imports/template
func (h *ImportHandlers) HandleTemplate(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := spreadsheet.WriteTemplate(&buf); err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", spreadsheet.TemplateFileName))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// HandleHistory lists recent commits, newest first.
//
//	GET /api/imports/history?limit=
func (h *ImportHandlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, 20, 100)
	records, err := h.history.RecentCommits(r.Context(), p.Limit)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if records == nil {
		records = []storage.CommitRecord{}
	}
	httputil.OK(w, map[string]any{"commits": records})
}

// HandleGet returns the current state of a session.
//
//	GET /api/imports/{id}
func (h *ImportHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, s, err)
}

// HandleReset discards the session's data and starts over.
//
//	DELETE /api/imports/{id}
func (h *ImportHandlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Reset(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, s, err)
}

// HandleUpload accepts a multipart "file" and analyzes it. An optional
// "language" form field (BCP 47) overrides language detection.
//
//	POST /api/imports/{id}/file
func (h *ImportHandlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, h.logger, err)
			return
		}
		httputil.BadRequest(w, "expected a multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	s, err := h.manager.Upload(r.Context(), chi.URLParam(r, "id"), data, header.Filename, r.FormValue("language"))
	h.respond(w, s, err)
}

// HandleEdit switches an empty session to manual entry.
//
//	POST /api/imports/{id}/edit
func (h *ImportHandlers) HandleEdit(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.EnterEdit(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, s, err)
}

type gridRequest struct {
	Headers  []string   `json:"headers"`
	Rows     [][]string `json:"rows"`
	Language string     `json:"language"`
}

// HandleGrid submits manually entered cells.
//
//	POST /api/imports/{id}/grid
func (h *ImportHandlers) HandleGrid(w http.ResponseWriter, r *http.Request) {
	var req gridRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	s, err := h.manager.SubmitGrid(r.Context(), chi.URLParam(r, "id"), req.Headers, req.Rows, req.Language)
	h.respond(w, s, err)
}

type mappingRequest struct {
	Header string  `json:"header"`
	Field  *string `json:"field"`
}

// HandleMapping maps one header onto a field; a null or empty field unmaps it.
//
//	PUT /api/imports/{id}/mapping
func (h *ImportHandlers) HandleMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	var field *datanorm.Field
	if req.Field != nil && *req.Field != "" {
		f := datanorm.Field(*req.Field)
		field = &f
	}
	s, err := h.manager.SetMapping(r.Context(), chi.URLParam(r, "id"), req.Header, field)
	h.respond(w, s, err)
}

// HandlePreview validates the file under the current mapping.
//
//	POST /api/imports/{id}/preview
func (h *ImportHandlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Preview(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, s, err)
}

// HandleRows pages through the preview rows, optionally filtered by status.
//
//	GET /api/imports/{id}/rows?status=&limit=&offset=
func (h *ImportHandlers) HandleRows(w http.ResponseWriter, r *http.Request) {
	var status importer.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, ok := importer.ParseStatus(raw)
		if !ok {
			httputil.BadRequest(w, fmt.Sprintf("unknown status %q", raw))
			return
		}
		status = st
	}

	s, err := h.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if s.Preview == nil {
		respondError(w, h.logger, fmt.Errorf("%w: no preview in state %s", session.ErrInvalidTransition, s.State))
		return
	}
	httputil.OK(w, paginate(s.Preview.Filter(status), ParsePagination(r, defaultRowLimit, maxRowLimit)))
}

// HandleToggleRow flips the selection of one valid row.
//
//	POST /api/imports/{id}/rows/{rowID}/toggle
func (h *ImportHandlers) HandleToggleRow(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.ToggleRow(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "rowID"))
	h.respond(w, s, err)
}

type selectRequest struct {
	Selected bool `json:"selected"`
}

// HandleSelectAll selects or deselects every valid row.
//
//	POST /api/imports/{id}/rows/select
func (h *ImportHandlers) HandleSelectAll(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	s, err := h.manager.ToggleAll(r.Context(), chi.URLParam(r, "id"), req.Selected)
	h.respond(w, s, err)
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

// HandleKeepDuplicates promotes duplicates; no ids means all of them.
//
//	POST /api/imports/{id}/duplicates/keep
func (h *ImportHandlers) HandleKeepDuplicates(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	s, err := h.manager.KeepDuplicates(r.Context(), chi.URLParam(r, "id"), req.IDs)
	h.respond(w, s, err)
}

// HandleDeleteDuplicates removes duplicates; no ids means all of them.
//
//	POST /api/imports/{id}/duplicates/delete
func (h *ImportHandlers) HandleDeleteDuplicates(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	s, err := h.manager.DeleteDuplicates(r.Context(), chi.URLParam(r, "id"), req.IDs)
	h.respond(w, s, err)
}

// HandleBack returns from the preview to the mapping.
//
//	POST /api/imports/{id}/back
func (h *ImportHandlers) HandleBack(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.BackToMapping(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, s, err)
}

type commitResponse struct {
	Session sessionView         `json:"session"`
	Result  contacts.BulkResult `json:"result"`
}

// HandleCommit sends the selected rows to the contacts sink. Concurrent
// commits of one session across instances are refused with 409.
//
//	POST /api/imports/{id}/commit
func (h *ImportHandlers) HandleCommit(w http.ResponseWriter, r *http.Request) {
	if h.sink == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "no contacts sink configured")
		return
	}
	opts := session.DefaultCommitOptions()
	if !decodeOptional(w, r, &opts) {
		return
	}

	id := chi.URLParam(r, "id")
	var (
		s      session.Session
		result contacts.BulkResult
	)
	err := h.locker.Do(r.Context(), "import-commit:"+id, func(ctx context.Context) error {
		var err error
		s, result, err = h.manager.Commit(ctx, id, h.sink, opts)
		return err
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if result.Errors == nil {
		result.Errors = []string{}
	}
	httputil.OK(w, commitResponse{Session: newSessionView(s), Result: result})
}
