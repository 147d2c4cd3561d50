package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

// ArchiveImpl implements domain.Archiver: it writes match views as JSONL and
// records each upload in the audit log. Reclaiming the ledger records is the
// caller's step, taken only after the upload succeeded.
type ArchiveImpl struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
}

// NewArchiver creates an ArchiveImpl. audit may be nil.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, audit: audit}
}

// ArchiveMatches uploads matches to archive/matches/YYYY-MM-DD/<unix-nanos>.jsonl
// and returns the object path.
func (a *ArchiveImpl) ArchiveMatches(ctx context.Context, matches []domain.MatchView, at time.Time) (string, error) {
	if len(matches) == 0 {
		return "", errors.New("s3blob: archive matches: nothing to archive")
	}
	buf, err := marshalJSONL(matches)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive matches marshal: %w", err)
	}

	path := archivePath("matches", at)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive matches upload: %w", err)
	}

	if a.audit != nil {
		ids := make([]uint64, len(matches))
		for i, m := range matches {
			ids[i] = m.MatchID
		}
		if err := a.audit.Log(ctx, "archive.matches", map[string]any{
			"path":      path,
			"count":     len(matches),
			"match_ids": ids,
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive matches audit log: %w", err)
		}
	}
	return path, nil
}

// ReadMatches loads an archive written by ArchiveMatches.
func ReadMatches(ctx context.Context, r domain.BlobReader, path string) ([]domain.MatchView, error) {
	body, err := r.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var out []domain.MatchView
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var v domain.MatchView
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			return nil, fmt.Errorf("s3blob: read archive %s line %d: %w", path, len(out)+1, err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read archive %s: %w", path, err)
	}
	return out, nil
}

// archivePath partitions archives by UTC day:
//
//	archive/matches/2026-01-02/1767323045000000000.jsonl
func archivePath(kind string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("archive/%s/%s/%d.jsonl", kind, at.Format("2006-01-02"), at.UnixNano())
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// matchArchivePrefix is the key prefix ArchiveMatches writes under.
const matchArchivePrefix = "archive/matches/"

// Catalog looks up archived match batches. Lookups are confined to the match
// archive prefix.
type Catalog struct {
	reader domain.BlobReader
}

// NewCatalog creates a Catalog over r.
func NewCatalog(r domain.BlobReader) *Catalog {
	return &Catalog{reader: r}
}

// Batches lists archive objects, optionally restricted to one UTC day
// formatted as YYYY-MM-DD.
func (c *Catalog) Batches(ctx context.Context, day string) ([]domain.BlobInfo, error) {
	prefix := matchArchivePrefix
	if day != "" {
		prefix += day + "/"
	}
	infos, err := c.reader.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		infos[i].ContentType = "application/x-ndjson"
	}
	return infos, nil
}

// Matches decodes one archive batch. Paths outside the match archive are
// reported as not found.
func (c *Catalog) Matches(ctx context.Context, path string) ([]domain.MatchView, error) {
	if !strings.HasPrefix(path, matchArchivePrefix) || strings.Contains(path, "..") {
		return nil, fmt.Errorf("s3blob: archive %s: %w", path, domain.ErrNotFound)
	}
	ok, err := c.reader.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("s3blob: archive %s: %w", path, domain.ErrNotFound)
	}
	return ReadMatches(ctx, c.reader, path)
}
