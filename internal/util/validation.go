package util

import (
	"errors"
	"path/filepath"
	"strings"
)

var videoContentTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
}

// IsValidVideoFile checks if a filename has a supported video extension
func IsValidVideoFile(filename string) bool {
	_, ok := videoContentTypes[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// IsValidVideoContentType reports whether ct is one of the accepted video types
func IsValidVideoContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	for _, v := range videoContentTypes {
		if v == ct {
			return true
		}
	}
	return false
}

// VideoContentType returns the content type for a filename's extension, or
// application/octet-stream when unknown
func VideoContentType(filename string) string {
	if ct, ok := videoContentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ValidateFilename checks if a display filename is valid
// Filename is required and cannot contain directory separators
// Must be <= 255 chars
func ValidateFilename(filename string) error {
	if filename == "" {
		return errors.New("filename is required")
	}
	if strings.Contains(filename, "/") || strings.Contains(filename, "\\") {
		return errors.New("filename cannot contain directory paths")
	}
	if len(filename) > 255 {
		return errors.New("filename too long (max 255 characters)")
	}
	return nil
}
