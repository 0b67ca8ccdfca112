package models

// FileKind is the rendering taxonomy shared by local and remote attachments.
type FileKind string

const (
	FileKindImage FileKind = "image"
	FileKindVideo FileKind = "video"
	FileKindPDF   FileKind = "pdf"
	FileKindOther FileKind = "other"
)

// AttachmentRef points at a message attachment. Exactly one of URL (confirmed
// message) or PreviewHandle (optimistic message) is expected to be set.
type AttachmentRef struct {
	URL           string   `json:"url,omitempty"`
	PreviewHandle string   `json:"preview_handle,omitempty"`
	FileName      string   `json:"file_name"`
	MimeType      string   `json:"mime_type,omitempty"`
	Size          int64    `json:"size,omitempty"`
	Kind          FileKind `json:"kind"`
}

// AttachmentPayload is the transient, transport-ready form of a selected file.
type AttachmentPayload struct {
	Data     string `json:"file_data"`
	FileName string `json:"file_name"`
	MimeType string `json:"file_type"`
	Size     int64  `json:"file_size"`
	Digest   string `json:"-"`
}
