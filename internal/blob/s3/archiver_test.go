package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	err     error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, jsonlContentType)
}

type memStore struct {
	rows []domain.Assessment
}

func (s *memStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.Assessment, error) {
	var out []domain.Assessment
	for _, r := range s.rows {
		if r.Timestamp.Before(before) && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	kept := s.rows[:0]
	var n int64
	for _, r := range s.rows {
		if r.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return n, nil
}

type memAudit struct {
	events []string
	detail []map[string]any
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	a.detail = append(a.detail, detail)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

var base = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func rowsEveryMinute(n int) []domain.Assessment {
	out := make([]domain.Assessment, n)
	for i := range out {
		out[i] = domain.Assessment{
			ID:        string(rune('a' + i)),
			Symbol:    "BTC-USD",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func countLines(t *testing.T, b []byte) int {
	t.Helper()
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var a domain.Assessment
		require.NoError(t, json.Unmarshal(sc.Bytes(), &a))
		n++
	}
	return n
}

func TestArchiveAssessments_SingleBatch(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}}
	store := &memStore{rows: rowsEveryMinute(5)}
	audit := &memAudit{}
	arch := NewAssessmentArchiver(w, store, audit, 100)

	cutoff := base.Add(3 * time.Minute)
	n, err := arch.ArchiveAssessments(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	obj, ok := w.objects["archive/assessments/2026-03-02/part-0000.jsonl"]
	require.True(t, ok)
	assert.Equal(t, 3, countLines(t, obj))
	assert.Len(t, store.rows, 2, "archived rows are deleted")
	assert.Equal(t, []string{"archive.assessments"}, audit.events)
	assert.Equal(t, int64(3), audit.detail[0]["count"])
}

func TestArchiveAssessments_MultipleBatches(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}}
	store := &memStore{rows: rowsEveryMinute(7)}
	arch := NewAssessmentArchiver(w, store, nil, 3)

	n, err := arch.ArchiveAssessments(context.Background(), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, store.rows)
	assert.Len(t, w.objects, 4)
	// Each full batch hands its last row to the next one.
	assert.Equal(t, int64(10), n)
}

func TestArchiveAssessments_NothingToDo(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}}
	audit := &memAudit{}
	arch := NewAssessmentArchiver(w, &memStore{}, audit, 10)

	n, err := arch.ArchiveAssessments(context.Background(), base)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
	assert.Empty(t, audit.events)
}

func TestArchiveAssessments_UploadFailureKeepsRows(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}, err: errors.New("access denied")}
	store := &memStore{rows: rowsEveryMinute(3)}
	arch := NewAssessmentArchiver(w, store, nil, 10)

	_, err := arch.ArchiveAssessments(context.Background(), base.Add(time.Hour))
	require.Error(t, err)
	assert.Len(t, store.rows, 3)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
}
