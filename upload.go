package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type errorResult struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleUpload accepts a multipart form with a "file" part and stores it.
// The answer carries the file_id to pass to the image tools.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResult{Error: "file too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResult{Error: "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResult{Error: "failed to read file"})
		return
	}
	if len(data) > maxUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResult{Error: "file too large"})
		return
	}

	uploadID := uuid.NewString()
	result, err := s.ingest(r.Context(), data, header.Header.Get("Content-Type"), "upload_"+uploadID[:8])
	if err != nil {
		s.logger.Warn("upload failed", zap.String("upload_id", uploadID), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorResult{Error: err.Error()})
		return
	}

	s.logger.Info("upload stored",
		zap.String("upload_id", uploadID),
		zap.String("filename", header.Filename),
		zap.String("file_id", result.FileID))
	writeJSON(w, http.StatusOK, result)
}
