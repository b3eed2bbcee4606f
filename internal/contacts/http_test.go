package contacts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSinkBulkCreate(t *testing.T) {
	var got bulkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/contacts/bulk", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"successCount":1,"failedCount":1,"errors":["row 2: email taken"]}`))
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL+"/api/", "secret", time.Second, nil)
	res, err := sink.BulkCreate(context.Background(),
		[]Record{{Name: "Ann", Type: TypeIndividual}, {Name: "Bob", Type: TypeIndividual}},
		BulkOptions{SkipDuplicates: true})
	require.NoError(t, err)

	assert.Equal(t, BulkResult{SuccessCount: 1, FailedCount: 1, Errors: []string{"row 2: email taken"}}, res)
	assert.Len(t, got.Contacts, 2)
	assert.True(t, got.SkipDuplicates)
	assert.False(t, got.UpdateExisting)
}

func TestHTTPSinkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream failed for ann@example.com`))
	}))
	defer srv.Close()

	_, err := NewHTTPSink(srv.URL, "", time.Second, nil).BulkCreate(context.Background(), []Record{{Name: "Ann"}}, BulkOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.NotContains(t, err.Error(), "ann@example.com")
}
