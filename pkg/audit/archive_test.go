package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (m *memorySink) Put(ctx context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func TestArchive_WritesJSONLines(t *testing.T) {
	s := NewMemoryStore()
	entries := appendScenario(t, s)
	sink := &memorySink{}

	res, err := Archive(context.Background(), s, sink, "recovery/", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, uint64(1), res.FirstSeq)
	assert.Equal(t, uint64(3), res.LastSeq)
	assert.Equal(t, entries[2].EntryHash, res.Head)
	assert.Equal(t, "recovery/audit-000000000001-000000000003.jsonl", res.Key)

	body := sink.objects[res.Key]
	require.NotEmpty(t, body)

	var decoded []Entry
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		decoded = append(decoded, e)
	}
	require.Len(t, decoded, 3)
	assert.NoError(t, VerifyChain(decoded, Genesis), "an exported segment must verify on its own")
}

func TestArchive_IncrementalAndEmpty(t *testing.T) {
	s := NewMemoryStore()
	appendScenario(t, s)
	sink := &memorySink{}

	res, err := Archive(context.Background(), s, sink, "", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, "audit-000000000003-000000000003.jsonl", res.Key)

	res, err = Archive(context.Background(), s, sink, "", 3)
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.Len(t, sink.objects, 1)
}

func TestArchive_SinkError(t *testing.T) {
	s := NewMemoryStore()
	appendScenario(t, s)

	_, err := Archive(context.Background(), s, &memorySink{err: errors.New("bucket gone")}, "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestS3Sink_Put(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotBody   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials:  aws.AnonymousCredentials{},
	})
	sink := NewS3SinkWithClient(client, "audit-bucket")

	require.NoError(t, sink.Put(context.Background(), "recovery/audit-1.jsonl", []byte(`{"sequence":1}`+"\n")))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/audit-bucket/recovery/audit-1.jsonl", gotPath)
	assert.Contains(t, string(gotBody), `{"sequence":1}`)
}

func TestNewSink_Validation(t *testing.T) {
	_, err := NewSink(context.Background(), SinkConfig{Backend: "s3"})
	assert.Error(t, err)

	_, err = NewSink(context.Background(), SinkConfig{Backend: "ftp", Bucket: "b"})
	assert.Error(t, err)
}
