package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// AssessmentArchiveStore is the part of the assessment store the archiver
// needs.
type AssessmentArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Assessment, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AssessmentArchiver implements domain.Archiver. It moves assessments older
// than a cutoff to JSONL objects, oldest first in batches, deleting each
// batch from the store only after its upload succeeded.
type AssessmentArchiver struct {
	writer     domain.BlobWriter
	store      AssessmentArchiveStore
	audit      domain.AuditStore
	batchLimit int
}

// NewAssessmentArchiver creates an AssessmentArchiver. audit may be nil.
func NewAssessmentArchiver(writer domain.BlobWriter, store AssessmentArchiveStore, audit domain.AuditStore, batchLimit int) *AssessmentArchiver {
	if batchLimit <= 0 {
		batchLimit = 50000
	}
	return &AssessmentArchiver{writer: writer, store: store, audit: audit, batchLimit: batchLimit}
}

// ArchiveAssessments archives every assessment older than before and
// returns how many rows were uploaded. Rows sharing the timestamp that ends
// a full batch are uploaded again with the next batch.
func (a *AssessmentArchiver) ArchiveAssessments(ctx context.Context, before time.Time) (int64, error) {
	var (
		total int64
		paths []string
	)
	for part := 0; ; part++ {
		rows, err := a.store.ListBefore(ctx, before, a.batchLimit)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive assessments query: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		buf, err := marshalJSONL(rows)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive assessments marshal: %w", err)
		}
		path := archivePath("assessments", before, part)
		if int64(len(buf)) > minPartSize {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
		}
		if err != nil {
			return total, fmt.Errorf("s3blob: archive assessments upload: %w", err)
		}
		total += int64(len(rows))
		paths = append(paths, path)

		cutoff := before
		if len(rows) == a.batchLimit {
			cutoff = rows[len(rows)-1].Timestamp
			if !cutoff.After(rows[0].Timestamp) {
				return total, fmt.Errorf("s3blob: archive assessments: batch of %d shares one timestamp, raise batch_limit", len(rows))
			}
		}
		if _, err := a.store.DeleteBefore(ctx, cutoff); err != nil {
			return total, fmt.Errorf("s3blob: archive assessments delete: %w", err)
		}
		if len(rows) < a.batchLimit {
			break
		}
	}

	if total == 0 || a.audit == nil {
		return total, nil
	}
	if err := a.audit.Log(ctx, "archive.assessments", map[string]any{
		"paths":  paths,
		"count":  total,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return total, fmt.Errorf("s3blob: archive assessments audit log: %w", err)
	}
	return total, nil
}

// archivePath partitions archive objects by cutoff day:
//
//	archive/assessments/2026-03-02/part-0000.jsonl
func archivePath(kind string, before time.Time, part int) string {
	return fmt.Sprintf("archive/%s/%s/part-%04d.jsonl", kind, before.UTC().Format("2006-01-02"), part)
}

// marshalJSONL encodes records one compact JSON value per line.
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

var _ domain.Archiver = (*AssessmentArchiver)(nil)
