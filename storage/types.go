package storage

import (
	"database/sql"
	"errors"
	"time"
)

// PreviewRecord is one row in attachment_previews.
type PreviewRecord struct {
	Handle    string
	Path      string
	FileName  string
	MimeType  string
	CreatedAt int64
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
