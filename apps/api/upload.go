package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Surajsingh419/chat-system/pkg/model"
)

// Attachments up to 10MB.
const maxUploadSize = 10 << 20

type UploadHandler struct {
	dir string
}

func NewUploadHandler(dir string) *UploadHandler {
	return &UploadHandler{dir: dir}
}

// ServeHTTP stores one multipart file under a generated name and answers
// with its FileData record. The url is a relative path served from
// /uploads/.
func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "File too large or malformed form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	storedName := uuid.NewString() + filepath.Ext(header.Filename)
	dst, err := os.Create(filepath.Join(h.dir, storedName))
	if err != nil {
		log.Printf("Failed to create upload file: %v", err)
		http.Error(w, "Failed to store file", http.StatusInternalServerError)
		return
	}
	defer dst.Close()

	size, err := io.Copy(dst, file)
	if err != nil {
		log.Printf("Failed to write upload file: %v", err)
		http.Error(w, "Failed to store file", http.StatusInternalServerError)
		return
	}

	mimetype := header.Header.Get("Content-Type")
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(model.FileData{
		URL:          "/uploads/" + storedName,
		OriginalName: header.Filename,
		Mimetype:     mimetype,
		Size:         size,
	})
}
