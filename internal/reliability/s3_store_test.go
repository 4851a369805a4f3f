package reliability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listBucketXML = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>backups</Name>
  <Prefix>p/</Prefix>
  <KeyCount>1</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents>
    <Key>p/allocator-backup-2024-06-01-033000.tar.gz</Key>
    <LastModified>2024-06-01T03:30:00.000Z</LastModified>
    <Size>42</Size>
  </Contents>
</ListBucketResult>`

type fakeS3 struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(listBucketXML))
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.bodies[r.URL.Path] = string(body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeS3Store(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_CONFIG_FILE", "/dev/null")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/dev/null")

	fake := &fakeS3{bodies: make(map[string]string)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	store, err := NewS3Store(context.Background(), S3Config{
		Bucket:          "backups",
		Endpoint:        server.URL,
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	}, silent)
	require.NoError(t, err)
	return store, fake
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{}, silent)
	assert.Error(t, err)
}

func TestS3Store_RoundTrip(t *testing.T) {
	store, fake := newFakeS3Store(t)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "p/a.tar.gz", strings.NewReader("archive-bytes")))
	assert.Contains(t, fake.bodies["/backups/p/a.tar.gz"], "archive-bytes")

	objects, err := store.List(ctx, "p/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "p/allocator-backup-2024-06-01-033000.tar.gz", objects[0].Key)
	assert.Equal(t, int64(42), objects[0].Size)
	assert.Equal(t, time.Date(2024, 6, 1, 3, 30, 0, 0, time.UTC), objects[0].LastModified.UTC())

	require.NoError(t, store.Delete(ctx, "p/a.tar.gz"))
	assert.Contains(t, fake.requests, "DELETE /backups/p/a.tar.gz")
}
