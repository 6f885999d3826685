package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/notifyhub/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// Archives above this size go through the multipart uploader.
	multipartThreshold = 64 * 1024 * 1024
)

// RecordSource is the slice of domain.DeliveryStore the archiver reads.
type RecordSource interface {
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.DeliveryRecord, error)
}

// ArchiveImpl implements domain.Archiver. Each calendar month becomes one
// JSONL object at archive/deliveries/YYYY-MM.jsonl. Records are never
// removed from the primary store here.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	records RecordSource
	audit   domain.AuditStore
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates an ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, records RecordSource, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, reader: reader, records: records, audit: audit}
}

// ArchiveMonth uploads every record created in month's calendar month (UTC).
// It returns 0 without uploading when the object already exists or the month
// is empty.
func (a *ArchiveImpl) ArchiveMonth(ctx context.Context, month time.Time) (int64, error) {
	month = month.UTC()
	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	path := archivePath("deliveries", from)

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", path, err)
	}
	if exists {
		return 0, nil
	}

	recs, err := a.records.ListCreatedBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s query: %w", path, err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", path, err)
	}

	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", path, err)
	}

	count := int64(len(recs))
	if err := a.audit.Log(ctx, "archive.deliveries", map[string]any{
		"path":  path,
		"count": count,
		"month": from.Format("2006-01"),
		"bytes": len(buf),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", path, err)
	}
	return count, nil
}

// archivePath builds the key for one month, e.g.
// archive/deliveries/2025-01.jsonl.
func archivePath(kind string, month time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month.Format("2006-01"))
}

// marshalJSONL encodes one compact JSON document per line.
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
