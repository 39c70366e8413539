package constants

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// DocumentKind decides the extraction strategy. It is resolved once at ingestion.
type DocumentKind string

const (
	KindPDF   DocumentKind = "pdf"
	KindImage DocumentKind = "image"
	KindText  DocumentKind = "text" // HTML or plain-text content, e.g. an email body
)

// SourceKind records where a staged document came from.
type SourceKind string

const (
	SourceEmail  SourceKind = "email"
	SourceManual SourceKind = "manual"
)

// AllowedExtensions holds the file extensions accepted for ingestion, mapped to their kind.
var AllowedExtensions = map[string]DocumentKind{
	"pdf":  KindPDF,
	"jpg":  KindImage,
	"jpeg": KindImage,
	"png":  KindImage,
	"webp": KindImage,
	"gif":  KindImage,
	"html": KindText,
	"htm":  KindText,
	"txt":  KindText,
}

// MaxImageBytes caps images sent inline to the multimodal backend.
const MaxImageBytes = 20 << 20

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ParseKind validates a stored kind string.
func ParseKind(s string) (DocumentKind, error) {
	switch k := DocumentKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindPDF, KindImage, KindText:
		return k, nil
	}
	return "", fmt.Errorf("unknown document kind %q", s)
}

// KindFromFile resolves the kind from the MIME type first and the filename extension second.
func KindFromFile(filename, mimeType string) (DocumentKind, bool) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case mt == "application/pdf":
		return KindPDF, true
	case strings.HasPrefix(mt, "image/"):
		return KindImage, true
	case mt == "text/html" || mt == "text/plain":
		return KindText, true
	}
	k, ok := AllowedExtensions[NormalizeExt(filepath.Ext(filename))]
	return k, ok
}

// MIMEFromFilename guesses a content type for a filename, with fallbacks for the common types.
func MIMEFromFilename(filename string) string {
	ext := NormalizeExt(filepath.Ext(filename))
	if mt := mime.TypeByExtension("." + ext); mt != "" {
		return mt
	}
	switch ext {
	case "pdf":
		return "application/pdf"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "html", "htm":
		return "text/html"
	case "txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
