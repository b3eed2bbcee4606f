package contacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ignite/contact-import/internal/pkg/logger"
)

// HTTPSink posts records to a contacts REST backend.
type HTTPSink struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPSink creates a sink for the API at baseURL.
func NewHTTPSink(baseURL, token string, timeout time.Duration, log *zap.Logger) *HTTPSink {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSink{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.OrNop(log).Named("contacts"),
	}
}

type bulkRequest struct {
	Contacts       []Record `json:"contacts"`
	SkipDuplicates bool     `json:"skipDuplicates"`
	UpdateExisting bool     `json:"updateExisting"`
}

// BulkCreate sends every record in one request and returns the backend's
// counts unchanged.
func (s *HTTPSink) BulkCreate(ctx context.Context, records []Record, opts BulkOptions) (BulkResult, error) {
	body, err := json.Marshal(bulkRequest{
		Contacts:       records,
		SkipDuplicates: opts.SkipDuplicates,
		UpdateExisting: opts.UpdateExisting,
	})
	if err != nil {
		return BulkResult{}, fmt.Errorf("marshal contacts: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/contacts/bulk", bytes.NewReader(body))
	if err != nil {
		return BulkResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return BulkResult{}, fmt.Errorf("contacts api request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return BulkResult{}, fmt.Errorf("read contacts api response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return BulkResult{}, fmt.Errorf("contacts api error (status %d): %s", resp.StatusCode, logger.RedactText(string(respBody)))
	}

	var result BulkResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return BulkResult{}, fmt.Errorf("parse contacts api response: %w", err)
	}
	if result.Errors == nil {
		result.Errors = []string{}
	}

	s.logger.Info("bulk create finished",
		zap.Int("sent", len(records)), zap.Int("success", result.SuccessCount), zap.Int("failed", result.FailedCount))
	return result, nil
}
