// Package storage keeps the original bytes of every upload and a history of
// committed imports. Neither is on the critical path: callers log failures
// and carry on.
package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ignite/contact-import/internal/config"
)

// CommitRecord is one finished import.
type CommitRecord struct {
	ID           string    `json:"id" dynamodbav:"ID"`
	SessionID    string    `json:"session_id" dynamodbav:"SessionID"`
	FileName     string    `json:"file_name" dynamodbav:"FileName"`
	ArchiveKey   string    `json:"archive_key,omitempty" dynamodbav:"ArchiveKey,omitempty"`
	TotalRows    int       `json:"total_rows" dynamodbav:"TotalRows"`
	Submitted    int       `json:"submitted" dynamodbav:"Submitted"`
	SuccessCount int       `json:"success_count" dynamodbav:"SuccessCount"`
	FailedCount  int       `json:"failed_count" dynamodbav:"FailedCount"`
	AIUsed       bool      `json:"ai_used" dynamodbav:"AIUsed"`
	CommittedAt  time.Time `json:"committed_at" dynamodbav:"CommittedAt"`
}

// Archive stores original upload bytes and returns the key they were
// stored under.
type Archive interface {
	PutUpload(ctx context.Context, sessionID, fileName string, data []byte) (string, error)
}

// History records committed imports.
type History interface {
	RecordCommit(ctx context.Context, rec CommitRecord) error
	RecentCommits(ctx context.Context, limit int) ([]CommitRecord, error)
}

// Store is both an Archive and a History.
type Store interface {
	Archive
	History
}

// New creates the store selected by cfg.Type.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "", "none":
		return Nop{}, nil
	case "local":
		return NewLocalStorage(cfg.LocalPath)
	case "aws":
		s, err := NewAWSStorage(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("initializing AWS storage: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) PutUpload(context.Context, string, string, []byte) (string, error) { return "", nil }

func (Nop) RecordCommit(context.Context, CommitRecord) error { return nil }

func (Nop) RecentCommits(context.Context, int) ([]CommitRecord, error) { return nil, nil }

// LocalStorage keeps uploads and history under a directory.
type LocalStorage struct {
	root string
	mu   sync.Mutex
}

const historyFile = "history.jsonl"

// NewLocalStorage creates root if needed.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage path is empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{root: root}, nil
}

// PutUpload writes data to uploads/<session>/<timestamp>-<file>.
func (s *LocalStorage) PutUpload(_ context.Context, sessionID, fileName string, data []byte) (string, error) {
	key := uploadKey(sessionID, fileName, time.Now())
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing upload: %w", err)
	}
	return key, nil
}

// RecordCommit appends rec to the history file.
func (s *LocalStorage) RecordCommit(_ context.Context, rec CommitRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling commit record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.root, historyFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// RecentCommits returns up to limit records, newest first.
func (s *LocalStorage) RecentCommits(_ context.Context, limit int) ([]CommitRecord, error) {
	s.mu.Lock()
	data, err := os.ReadFile(filepath.Join(s.root, historyFile))
	s.mu.Unlock()
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var all []CommitRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var rec CommitRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		all = append(all, rec)
	}

	out := make([]CommitRecord, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}

// uploadKey builds a slash-separated key with path elements stripped from
// user-supplied names.
func uploadKey(sessionID, fileName string, at time.Time) string {
	name := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return fmt.Sprintf("uploads/%s/%s-%s", filepath.Base(sessionID), at.UTC().Format("20060102T150405Z"), name)
}

func hasExt(fileName, ext string) bool {
	return strings.EqualFold(filepath.Ext(fileName), ext)
}
