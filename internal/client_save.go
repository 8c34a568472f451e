package internal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"roomchat/internal/storage"
)

// DownloadLedger records saved attachments. *storage.Store satisfies it.
type DownloadLedger interface {
	RecordDownload(ctx context.Context, d storage.Download) (storage.Download, error)
	ListDownloads(ctx context.Context, limit int) ([]storage.Download, error)
}

type (
	downloadSavedMsg struct {
		download storage.Download
		err      error
	}
	downloadsListedMsg struct {
		downloads []storage.Download
		err       error
	}
)

var downloadClient = &http.Client{Timeout: 2 * time.Minute}

// saveImageCmd writes the decoded image as PNG into dir and records it.
func saveImageCmd(ctx context.Context, ledger DownloadLedger, dir, room string, entry LogEntry, now time.Time) tea.Cmd {
	return func() tea.Msg {
		download, err := saveImage(ctx, ledger, dir, room, entry, now)
		return downloadSavedMsg{download: download, err: err}
	}
}

func saveImage(ctx context.Context, ledger DownloadLedger, dir, room string, entry LogEntry, now time.Time) (storage.Download, error) {
	img, err := decodeImage(entry.Image)
	if err != nil {
		return storage.Download{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storage.Download{}, fmt.Errorf("create download dir: %w", err)
	}
	path, file, err := createUnique(dir, "image_"+now.Format("20060102_150405"), ".png")
	if err != nil {
		return storage.Download{}, err
	}
	hasher := sha256.New()
	counter := &countingWriter{}
	if err := png.Encode(io.MultiWriter(file, hasher, counter), img); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return storage.Download{}, fmt.Errorf("encode png: %w", err)
	}
	if err := file.Close(); err != nil {
		return storage.Download{}, fmt.Errorf("close %s: %w", path, err)
	}
	download := storage.Download{
		Room:      room,
		Author:    entry.Author,
		Path:      path,
		SizeBytes: counter.n,
		SHA256:    hex.EncodeToString(hasher.Sum(nil)),
		SavedAt:   now,
	}
	if ledger == nil {
		return download, nil
	}
	recorded, err := ledger.RecordDownload(ctx, download)
	if err != nil {
		return download, fmt.Errorf("record download: %w", err)
	}
	return recorded, nil
}

// downloadFileCmd fetches a shared file from its link into dir and records it.
func downloadFileCmd(ctx context.Context, ledger DownloadLedger, dir, room string, entry LogEntry, now time.Time) tea.Cmd {
	return func() tea.Msg {
		download, err := downloadFile(ctx, ledger, dir, room, entry, now)
		return downloadSavedMsg{download: download, err: err}
	}
}

func downloadFile(ctx context.Context, ledger DownloadLedger, dir, room string, entry LogEntry, now time.Time) (storage.Download, error) {
	if entry.File.Link == "" {
		return storage.Download{}, fmt.Errorf("%s has no download link", entry.File.Name)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.File.Link, nil)
	if err != nil {
		return storage.Download{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return storage.Download{}, fmt.Errorf("fetch %s: %w", entry.File.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return storage.Download{}, fmt.Errorf("fetch %s: server returned %s", entry.File.Name, resp.Status)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storage.Download{}, fmt.Errorf("create download dir: %w", err)
	}
	base, ext := downloadName(entry.File.Name)
	path, file, err := createUnique(dir, base, ext)
	if err != nil {
		return storage.Download{}, err
	}
	hasher := sha256.New()
	counter := &countingWriter{}
	if _, err := io.Copy(io.MultiWriter(file, hasher, counter), resp.Body); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return storage.Download{}, fmt.Errorf("download %s: %w", entry.File.Name, err)
	}
	if err := file.Close(); err != nil {
		return storage.Download{}, fmt.Errorf("close %s: %w", path, err)
	}
	download := storage.Download{
		Room:      room,
		Author:    entry.Author,
		Path:      path,
		SizeBytes: counter.n,
		SHA256:    hex.EncodeToString(hasher.Sum(nil)),
		SavedAt:   now,
	}
	if ledger == nil {
		return download, nil
	}
	recorded, err := ledger.RecordDownload(ctx, download)
	if err != nil {
		return download, fmt.Errorf("record download: %w", err)
	}
	return recorded, nil
}

// downloadName keeps only the last path element of a sender-chosen name.
func downloadName(name string) (string, string) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == ".." || base == "/" {
		base = "download"
	}
	ext := filepath.Ext(base)
	if stem := strings.TrimSuffix(base, ext); stem != "" {
		return stem, ext
	}
	return base, ""
}

func listDownloads(ctx context.Context, ledger DownloadLedger, limit int) downloadsListedMsg {
	if ledger == nil {
		return downloadsListedMsg{}
	}
	downloads, err := ledger.ListDownloads(ctx, limit)
	return downloadsListedMsg{downloads: downloads, err: err}
}

// createUnique opens base+ext in dir, appending _1, _2, ... on collisions.
func createUnique(dir, base, ext string) (string, *os.File, error) {
	for i := 0; i < 100; i++ {
		name := base + ext
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", base, i, ext)
		}
		path := filepath.Join(dir, name)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return path, file, nil
		}
		if !os.IsExist(err) {
			return "", nil, err
		}
	}
	return "", nil, fmt.Errorf("no free file name for %s in %s", base, dir)
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
