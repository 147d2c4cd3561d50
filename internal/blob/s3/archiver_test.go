package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
	types   map[string]string
	failPut bool
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.failPut {
		return errors.New("boom")
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type memAudit struct {
	entries []domain.AuditEntry
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.entries = append(a.entries, domain.AuditEntry{ID: int64(len(a.entries) + 1), Event: event, Detail: detail})
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return a.entries, nil
}

func TestArchiveMatches(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{}
	a := NewArchiver(blobs, audit)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	views := []domain.MatchView{
		{Address: domain.Address{1}, MatchRecord: domain.MatchRecord{MatchID: 1, Status: domain.MatchStatusSettled, Winner: domain.Address{0xaa}}},
		{Address: domain.Address{2}, MatchRecord: domain.MatchRecord{MatchID: 2, Status: domain.MatchStatusCancelled}},
	}
	path, err := a.ArchiveMatches(context.Background(), views, at)
	require.NoError(t, err)
	assert.Equal(t, "archive/matches/2026-01-02/1767323045000000000.jsonl", path)
	assert.Equal(t, "application/x-ndjson", blobs.types[path])
	assert.Equal(t, 2, bytes.Count(blobs.objects[path], []byte("\n")))

	got, err := ReadMatches(context.Background(), blobs, path)
	require.NoError(t, err)
	assert.Equal(t, views, got)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "archive.matches", audit.entries[0].Event)
	assert.Equal(t, []uint64{1, 2}, audit.entries[0].Detail["match_ids"])
}

func TestArchiveMatchesFailures(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, nil)

	_, err := a.ArchiveMatches(context.Background(), nil, time.Now())
	require.Error(t, err)

	blobs.failPut = true
	_, err = a.ArchiveMatches(context.Background(), []domain.MatchView{{}}, time.Now())
	require.Error(t, err)
	assert.Empty(t, blobs.objects)

	_, err = ReadMatches(context.Background(), blobs, "archive/matches/missing.jsonl")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewArchiver(blobs, nil)
	views := []domain.MatchView{{MatchRecord: domain.MatchRecord{MatchID: 9, Status: domain.MatchStatusSettled}}}

	jan2, err := a.ArchiveMatches(ctx, views, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = a.ArchiveMatches(ctx, views, time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	blobs.objects["secrets/other.json"] = []byte("{}")

	c := NewCatalog(blobs)

	all, err := c.Batches(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	day, err := c.Batches(ctx, "2026-01-02")
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, jan2, day[0].Path)

	got, err := c.Matches(ctx, jan2)
	require.NoError(t, err)
	assert.Equal(t, views, got)

	_, err = c.Matches(ctx, "secrets/other.json")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = c.Matches(ctx, "archive/matches/../../secrets/other.json")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = c.Matches(ctx, "archive/matches/2026-01-09/1.jsonl")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
