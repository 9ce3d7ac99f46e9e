package api

import (
	"fmt"
	"path/filepath"
	"strings"
)

// allowedUploadExtensions are the media types the detector pipeline accepts.
var allowedUploadExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".mp4":  true,
	".avi":  true,
}

// ValidateUploadName checks the filename of an uploaded media file.
func ValidateUploadName(name string) error {
	if name == "" {
		return fmt.Errorf("filename is required")
	}
	// Reject path traversal in the client-supplied name.
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid filename %q", name)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedUploadExtensions[ext] {
		return fmt.Errorf("unsupported file extension %q (allowed: jpg, jpeg, png, mp4, avi)", ext)
	}
	return nil
}

// ValidateUploadSize checks the declared upload size against the limit.
func ValidateUploadSize(size, max int64) error {
	if size <= 0 {
		return fmt.Errorf("empty upload")
	}
	if size > max {
		return fmt.Errorf("upload too large: %d bytes (max %d)", size, max)
	}
	return nil
}
