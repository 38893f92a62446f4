package console

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"time"

	"wastageops/internal/blob"
	"wastageops/pkg/domain"
)

// Exporter writes dataset snapshots as CSV artifacts into the blob store.
type Exporter struct {
	Store blob.Store
	// PresignExpiry bounds the lifetime of download URLs on backends that
	// support signing. Zero means 15 minutes.
	PresignExpiry time.Duration
}

// Export renders rows (persist columns only, the deletion marker is never
// exported) to CSV and stores the artifact under
// exports/<dataset>/<timestamp>.csv. When
// the backend can presign, the returned Info carries a download URL.
func (e *Exporter) Export(ctx context.Context, cfg domain.DatasetConfig, rows []domain.Record) (blob.Info, error) {
	if e == nil || e.Store == nil {
		return blob.Info{}, fmt.Errorf("export store not configured")
	}
	columns := cfg.PersistColumns()

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(columns); err != nil {
		return blob.Info{}, err
	}
	for _, row := range rows {
		record := make([]string, len(columns))
		for i, col := range columns {
			record[i] = row.CanonicalField(col)
		}
		if err := writer.Write(record); err != nil {
			return blob.Info{}, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return blob.Info{}, err
	}

	key := fmt.Sprintf("exports/%s/%s.csv", cfg.Name, time.Now().UTC().Format("20060102T150405Z"))
	info, err := e.Store.Put(ctx, key, &buf, blob.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"dataset": cfg.Name},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("store export: %w", err)
	}

	expiry := e.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	url, err := e.Store.PresignURL(ctx, key, expiry)
	switch {
	case err == nil:
		info.URL = url
	case errors.Is(err, blob.ErrUnsupported):
		// local backends have no shareable URL
	default:
		return blob.Info{}, fmt.Errorf("presign export: %w", err)
	}
	return info, nil
}
