package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

type restoreResponse struct {
	Filename   string         `json:"filename"`
	Created    map[string]int `json:"created"`
	DurationMs int64          `json:"durationMs"`
	Warnings   []string       `json:"warnings,omitempty"`
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	files, err := s.backups.List()
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"backups": files})
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	release, err := s.lock.Acquire()
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	defer release()

	name, err := s.backups.Create(r.Context(), actor(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"filename": name})
}

func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	release, err := s.lock.Acquire()
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	defer release()

	result, err := s.backups.Restore(r.Context(), filename, actor(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, restoreResponse{
		Filename:   filename,
		Created:    result.Created,
		DurationMs: result.Duration.Milliseconds(),
		Warnings:   result.Warnings,
	})
}

func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	release, err := s.lock.Acquire()
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	defer release()

	if err := s.backups.Delete(r.Context(), filename, actor(r)); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": filename})
}

// handleDownloadBackup streams the artifact bytes unchanged.
func (s *Server) handleDownloadBackup(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	rc, info, err := s.backups.Download(filename)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Filename}))
	w.Header().Set("Content-Length", strconv.FormatInt(info.SizeBytes, 10))
	w.Header().Set("Last-Modified", info.CreatedAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warnf("download %s interrupted: %v", filename, err)
	}
}

// handleUploadBackup accepts either a raw body named by ?filename= or a
// multipart form whose "file" part carries the content. The query parameter
// takes precedence over the part's file name.
func (s *Server) handleUploadBackup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	filename := r.URL.Query().Get("filename")

	var body io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		part, name, err := filePart(r)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		defer part.Close()
		body = part
		if filename == "" {
			filename = name
		}
	}
	if filename == "" {
		writeError(w, s.logger, fmt.Errorf("%w: filename is required", errBadRequest))
		return
	}

	release, err := s.lock.Acquire()
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	defer release()

	stored, err := s.backups.Upload(r.Context(), body, filename, actor(r))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"filename":   stored,
		"uploadedAt": time.Now().UTC(),
	})
}

// filePart returns the "file" part of a multipart request and its base name.
func filePart(r *http.Request) (io.ReadCloser, string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", errBadRequest, err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, "", fmt.Errorf("%w: multipart body has no \"file\" part", errBadRequest)
		}
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", errBadRequest, err)
		}
		if part.FormName() == "file" {
			name := part.FileName()
			if name != "" {
				name = filepath.Base(name)
			}
			return part, name, nil
		}
		part.Close()
	}
}
