package devserver

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

var errFileTooLarge = errors.New("file too large")

// uploadedFile is the metadata kept for a file shared in a room.
type uploadedFile struct {
	ID          string
	Room        string
	Filename    string
	MediaType   string
	SizeBytes   int64
	UploadedBy  string
	StoragePath string // relative to the upload base dir
	UploadedAt  time.Time
	SHA256      string
}

// fileStore keeps room attachments on disk under baseDir/<room>/<id>-<name>.
type fileStore struct {
	baseDir     string
	maxFileSize int64

	mutex sync.RWMutex
	files map[string]uploadedFile
}

func newFileStore(baseDir string, maxFileSize int64) *fileStore {
	return &fileStore{
		baseDir:     baseDir,
		maxFileSize: maxFileSize,
		files:       make(map[string]uploadedFile),
	}
}

func (s *fileStore) save(room, uploader, filename, mediaType string, data []byte, now time.Time) (uploadedFile, error) {
	if s.maxFileSize > 0 && int64(len(data)) > s.maxFileSize {
		return uploadedFile{}, fmt.Errorf("%w: %s exceeds %s", errFileTooLarge, humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(s.maxFileSize)))
	}
	filename = sanitizePathComponent(filepath.Base(strings.ReplaceAll(filename, "\\", "/")))
	fileID := uuid.NewString()
	roomDir := filepath.Join(s.baseDir, sanitizePathComponent(room))
	relative := filepath.Join(sanitizePathComponent(room), fileID+"-"+filename)

	if err := os.MkdirAll(roomDir, 0o755); err != nil {
		return uploadedFile{}, fmt.Errorf("create upload directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.baseDir, relative), data, 0o644); err != nil {
		return uploadedFile{}, fmt.Errorf("write file: %w", err)
	}
	sum := sha256.Sum256(data)
	file := uploadedFile{
		ID:          fileID,
		Room:        room,
		Filename:    filename,
		MediaType:   mediaType,
		SizeBytes:   int64(len(data)),
		UploadedBy:  uploader,
		StoragePath: relative,
		UploadedAt:  now,
		SHA256:      hex.EncodeToString(sum[:]),
	}
	s.mutex.Lock()
	s.files[fileID] = file
	s.mutex.Unlock()
	return file, nil
}

func (s *fileStore) get(fileID string) (uploadedFile, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	file, ok := s.files[fileID]
	return file, ok
}

// deleteRoom removes every file shared in room, on disk and in the index.
func (s *fileStore) deleteRoom(room string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for id, file := range s.files {
		if file.Room == room {
			delete(s.files, id)
		}
	}
	_ = os.RemoveAll(filepath.Join(s.baseDir, sanitizePathComponent(room)))
}

// serveDownload handles /files/{id}/{name}.
func (s *fileStore) serveDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	fileID, _, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/files/"), "/")
	if fileID == "" {
		http.Error(w, "file ID required", http.StatusBadRequest)
		return
	}
	info, ok := s.get(fileID)
	if !ok {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	filePath := filepath.Join(s.baseDir, info.StoragePath)
	absPath, err := filepath.Abs(filePath)
	absBase, baseErr := filepath.Abs(s.baseDir)
	if err != nil || baseErr != nil || !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		http.Error(w, "invalid file path", http.StatusForbidden)
		return
	}
	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found on disk", http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	defer file.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Filename))
	w.Header().Set("Content-Type", info.MediaType)
	http.ServeContent(w, r, info.Filename, info.UploadedAt, file)
}

// sanitizePathComponent removes dangerous characters from path components
func sanitizePathComponent(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "unnamed"
	}
	return s
}
