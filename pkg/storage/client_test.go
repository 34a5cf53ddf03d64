package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talenthive/cvflow/pkg/config"
)

func testClient(url string) *Client {
	return NewClient(&config.StorageConfig{
		SupabaseURL:      url,
		ServiceRoleKey:   "service-key",
		Bucket:           "resumes",
		OperationTimeout: 2 * time.Second,
		MaxRetries:       2,
	})
}

func TestDownload_Success(t *testing.T) {
	var path, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("file-bytes"))
	}))
	defer srv.Close()

	data, err := testClient(srv.URL).Download(context.Background(), "user-1/resume.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("file-bytes"), data)
	assert.Equal(t, "/storage/v1/object/resumes/user-1/resume.pdf", path)
	assert.Equal(t, "Bearer service-key", auth)
}

func TestDownload_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	data, err := testClient(srv.URL).Download(context.Background(), "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDownload_404IsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Download(context.Background(), "missing.pdf")
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestObjectURL_BucketPrefixNotDuplicated(t *testing.T) {
	c := testClient("https://example.supabase.co")
	assert.Equal(t,
		"https://example.supabase.co/storage/v1/object/resumes/a.pdf",
		c.objectURL("resumes/a.pdf"))
	assert.Equal(t,
		"https://example.supabase.co/storage/v1/object/resumes/a.pdf",
		c.objectURL("/a.pdf"))
}
