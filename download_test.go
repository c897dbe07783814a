package studio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirDownloader(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")
	d := DirDownloader{Dir: dir}

	data := []byte("webm bytes")
	require.NoError(t, d.Download(context.Background(), "sub/rec.webm", bytes.NewReader(data), int64(len(data))))

	got, err := os.ReadFile(filepath.Join(dir, "rec.webm"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	err = d.Download(context.Background(), "short.webm", bytes.NewReader(data), 100)
	assert.ErrorContains(t, err, "wrote 10 of 100 bytes")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Download(ctx, "x.webm", bytes.NewReader(data), -1), context.Canceled)
}

func TestObjectStoreConfig_Enabled(t *testing.T) {
	full := ObjectStoreConfig{Endpoint: "localhost:9000", Bucket: "rec", AccessKey: "a", SecretKey: "s"}
	assert.True(t, full.Enabled())

	missing := full
	missing.Bucket = ""
	assert.False(t, missing.Enabled())

	_, err := NewObjectStoreDownloader(missing)
	assert.Error(t, err)
}

func TestObjectStoreDownloader_ObjectKey(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "rec.webm"},
		{"recordings", "recordings/rec.webm"},
		{"/recordings/2024/", "recordings/2024/rec.webm"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			d, err := NewObjectStoreDownloader(ObjectStoreConfig{
				Endpoint:  "localhost:9000",
				Bucket:    "rec",
				AccessKey: "a",
				SecretKey: "s",
				Prefix:    tt.prefix,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.ObjectKey("dir/rec.webm"))
		})
	}
}

// fakeObjectStore answers just enough of the S3 API for uploads: the
// bucket starts missing and is created by the first PUT on it.
type fakeObjectStore struct {
	mu       sync.Mutex
	created  bool
	requests []string
}

func (s *fakeObjectStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	io.Copy(io.Discard, r.Body)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)

	bucketOnly := strings.Trim(r.URL.Path, "/") == "rec"
	switch {
	case r.Method == http.MethodHead && bucketOnly:
		if !s.created {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && bucketOnly:
		s.created = true
	case r.Method == http.MethodPut:
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (s *fakeObjectStore) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func TestObjectStoreDownloader_Download(t *testing.T) {
	store := &fakeObjectStore{}
	srv := httptest.NewServer(store)
	defer srv.Close()

	d, err := NewObjectStoreDownloader(ObjectStoreConfig{
		Endpoint:       strings.TrimPrefix(srv.URL, "http://"),
		Bucket:         "rec",
		Region:         "us-east-1",
		AccessKey:      "a",
		SecretKey:      "s",
		Prefix:         "recordings",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	data := []byte("webm bytes")

	// A failed bucket check is not remembered.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = d.Download(ctx, "rec.webm", bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, d.Download(context.Background(), "rec.webm", bytes.NewReader(data), int64(len(data))))
	assert.Equal(t, []string{
		"HEAD /rec/",
		"PUT /rec/",
		"PUT /rec/recordings/rec.webm",
	}, store.Requests())

	// The bucket is only checked once it exists.
	require.NoError(t, d.Download(context.Background(), "next.webm", bytes.NewReader(data), int64(len(data))))
	assert.Equal(t, "PUT /rec/recordings/next.webm", store.Requests()[3])
	assert.Len(t, store.Requests(), 4)
}
