package attachment

import (
	"errors"
	"fmt"
)

var (
	// ErrTooLarge marks attachments above the configured ceiling.
	ErrTooLarge = errors.New("attachment: file exceeds size limit")
	// ErrPreviewReleased is returned by Release after the first call.
	ErrPreviewReleased = errors.New("attachment: preview already released")
	// ErrIndexOutOfRange is returned when removing a pending entry that does not exist.
	ErrIndexOutOfRange = errors.New("attachment: pending index out of range")
)

// ValidationError is a user-facing rejection of a selected file.
type ValidationError struct {
	FileName string
	Size     int64
	Limit    int64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is %s, over the %s attachment limit", e.FileName, formatBytes(e.Size), formatBytes(e.Limit))
}

func (e *ValidationError) Unwrap() error {
	return ErrTooLarge
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
