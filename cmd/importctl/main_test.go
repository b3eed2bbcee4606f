package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-import/internal/session"
	"github.com/ignite/contact-import/internal/spreadsheet"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPreviewCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.csv")
	csv := "Full Name,Email,Notes\nJohn Doe,john@example.com,\nJane Roe,not-an-email,\nJohn Twice,john@example.com,\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	out, err := execute(t, "preview", path)
	require.NoError(t, err)
	assert.Contains(t, out, "fullName")
	assert.Contains(t, out, "valid 1")
	assert.Contains(t, out, "invalid 1")
	assert.Contains(t, out, "duplicate 1")
	assert.Contains(t, out, "Invalid email format: not-an-email")

	out, err = execute(t, "preview", path, "--status", "duplicate")
	require.NoError(t, err)
	assert.Contains(t, out, "John Twice")
	assert.NotContains(t, out, "Jane Roe")
}

func TestPreviewCommandErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.csv")
	require.NoError(t, os.WriteFile(path, []byte("Full Name,Email\nAda,ada@example.com\n"), 0o644))

	_, err := execute(t, "preview", path, "--map", "Full Name")
	assert.ErrorContains(t, err, "want Header=field")

	_, err = execute(t, "preview", path, "--map", "Full Name=")
	assert.ErrorIs(t, err, session.ErrNoAnchorMapped)

	_, err = execute(t, "preview", path, "--status", "maybe")
	assert.ErrorContains(t, err, "unknown status")

	_, err = execute(t, "preview", filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestTemplateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.xlsx")

	out, err := execute(t, "template", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, _, err = spreadsheet.NewReader(spreadsheet.ReaderOptions{}).Parse(data, spreadsheet.TemplateFileName)
	assert.ErrorIs(t, err, spreadsheet.ErrNoRows)
}
