package attachment

import (
	"mime"
	"path/filepath"
	"strings"

	"tutorchat/models"
)

// extensionTypes pins MIME types for the extensions the chat renders inline so
// classification does not depend on the host's mime tables.
var extensionTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".svg":  "image/svg+xml",
	".heic": "image/heic",
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// KindFromMIME classifies a declared content type.
func KindFromMIME(mimeType string) models.FileKind {
	mediaType := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}

	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return models.FileKindImage
	case strings.HasPrefix(mediaType, "video/"):
		return models.FileKindVideo
	case mediaType == "application/pdf":
		return models.FileKindPDF
	default:
		return models.FileKindOther
	}
}

// KindFromName classifies a file name or URL path by its extension. It agrees
// with KindFromMIME for every extension TypeForName knows.
func KindFromName(name string) models.FileKind {
	return KindFromMIME(TypeForName(name))
}

// TypeForName returns the MIME type implied by name's extension, or "" when
// the extension is unknown.
func TypeForName(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if mimeType, ok := extensionTypes[ext]; ok {
		return mimeType
	}
	return mime.TypeByExtension(ext)
}
