package ingest

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joseph-ayodele/expense-intake/constants"
)

// AllowedExt checks if a file extension is one the pipeline can extract from.
func AllowedExt(ext string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(ext)]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}

// CleanMetadata copies caller metadata without the keys the pipeline owns.
func CleanMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	for _, k := range constants.ReservedMetadataKeys {
		delete(out, k)
	}
	return out
}

var reUnsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// emailFilename derives a display filename for an email body from its subject.
func emailFilename(subject, body string) string {
	ext := ".txt"
	if strings.Contains(strings.ToLower(body), "<html") || strings.Contains(strings.ToLower(body), "<body") {
		ext = ".html"
	}
	name := strings.Trim(reUnsafeName.ReplaceAllString(strings.TrimSpace(subject), "_"), "_.")
	if name == "" {
		name = "email-body"
	}
	if len(name) > 80 {
		name = name[:80]
	}
	return name + ext
}
