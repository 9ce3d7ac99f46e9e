package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/beltline-data/conveyor.report/internal/httputil"
	"github.com/beltline-data/conveyor.report/internal/monitoring"
	"github.com/beltline-data/conveyor.report/internal/security"
)

// SetUploadDir sets where uploaded media files are stored. Defaults to the
// OS temp directory.
func (s *Server) SetUploadDir(dir string) {
	s.uploadDir = dir
}

func (s *Server) uploadTarget(name string) (string, error) {
	dir := s.uploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	// Server-generated prefix keeps client names from colliding.
	target := filepath.Join(dir, fmt.Sprintf("%s_%s", uuid.NewString(), filepath.Base(name)))
	if err := security.ValidatePathWithinDirectory(target, dir); err != nil {
		return "", err
	}
	return target, nil
}

// handleUpload accepts one media file for later detector processing and
// returns the stored path.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	maxBytes := s.tuning.GetMaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("missing 'file' form field: %v", err))
		return
	}
	defer file.Close()

	if err := ValidateUploadName(header.Filename); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := ValidateUploadSize(header.Size, maxBytes); err != nil {
		httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	target, err := s.uploadTarget(header.Filename)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	out, err := os.Create(target)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("store upload: %v", err))
		return
	}
	defer out.Close()

	written, err := io.Copy(out, file)
	if err != nil {
		os.Remove(target)
		httputil.InternalServerError(w, fmt.Sprintf("store upload: %v", err))
		return
	}

	monitoring.Logf("stored upload %s (%d bytes)", target, written)
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"path": target,
		"size": written,
	})
}
