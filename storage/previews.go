package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// ErrPreviewNotFound is returned when a preview handle is not registered.
var ErrPreviewNotFound = errors.New("storage: preview not found")

// RegisterPreview records a local preview copy so it can be swept if the
// process exits before the preview is released.
func (s *Store) RegisterPreview(record PreviewRecord) error {
	if strings.TrimSpace(record.Handle) == "" {
		return errors.New("handle is required")
	}
	if strings.TrimSpace(record.Path) == "" {
		return errors.New("path is required")
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO attachment_previews (handle, path, file_name, mime_type, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		record.Handle,
		record.Path,
		record.FileName,
		record.MimeType,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("register preview %q: %w", record.Handle, err)
	}

	return nil
}

// GetPreview loads one registered preview.
func (s *Store) GetPreview(handle string) (*PreviewRecord, error) {
	var record PreviewRecord
	err := s.db.QueryRow(
		`SELECT handle, path, file_name, mime_type, created_at
		FROM attachment_previews WHERE handle = ?`,
		handle,
	).Scan(&record.Handle, &record.Path, &record.FileName, &record.MimeType, &record.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrPreviewNotFound
		}
		return nil, fmt.Errorf("get preview %q: %w", handle, err)
	}

	return &record, nil
}

// UnregisterPreview removes the registry row for handle and reports whether a
// row existed.
func (s *Store) UnregisterPreview(handle string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM attachment_previews WHERE handle = ?`, handle)
	if err != nil {
		return false, fmt.Errorf("unregister preview %q: %w", handle, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("read rows affected for preview %q: %w", handle, err)
	}

	return rowsAffected > 0, nil
}

// ListPreviews returns every registered preview, oldest first.
func (s *Store) ListPreviews() ([]PreviewRecord, error) {
	rows, err := s.db.Query(
		`SELECT handle, path, file_name, mime_type, created_at
		FROM attachment_previews ORDER BY created_at ASC, handle ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list previews: %w", err)
	}
	defer rows.Close()

	records := make([]PreviewRecord, 0)
	for rows.Next() {
		var record PreviewRecord
		if err := rows.Scan(&record.Handle, &record.Path, &record.FileName, &record.MimeType, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan preview: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate previews: %w", err)
	}

	return records, nil
}

// PruneReleasedPreviews drops registry rows whose backing file is already gone.
func (s *Store) PruneReleasedPreviews() (int64, error) {
	records, err := s.ListPreviews()
	if err != nil {
		return 0, err
	}

	var pruned int64
	for _, record := range records {
		if _, err := os.Stat(record.Path); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		removed, err := s.UnregisterPreview(record.Handle)
		if err != nil {
			return pruned, err
		}
		if removed {
			pruned++
		}
	}

	return pruned, nil
}
