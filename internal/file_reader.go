package internal

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// EncodedFile is a local file ready to travel inside a `message` event.
type EncodedFile struct {
	Name    string
	DataURI string
	Size    int64
}

// FileReader turns a locally selected file into a transportable form.
type FileReader interface {
	Read(path string) (EncodedFile, error)
}

// DataURIReader reads a file from disk and base64-encodes it as a data URI.
type DataURIReader struct {
	MaxBytes int64
}

func (r DataURIReader) Read(path string) (EncodedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return EncodedFile{}, err
	}
	if info.IsDir() {
		return EncodedFile{}, &ValidationError{Field: "file", Reason: fmt.Sprintf("%s is a directory", path)}
	}
	if r.MaxBytes > 0 && info.Size() > r.MaxBytes {
		return EncodedFile{}, &ValidationError{
			Field:  "file",
			Reason: fmt.Sprintf("%s is %s, limit is %s", filepath.Base(path), humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(r.MaxBytes))),
		}
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return EncodedFile{}, err
	}
	return EncodedFile{
		Name:    filepath.Base(path),
		DataURI: encodeDataURI(path, content),
		Size:    int64(len(content)),
	}, nil
}

func encodeDataURI(path string, content []byte) string {
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mediaType == "" {
		mediaType = http.DetectContentType(content)
	}
	if idx := strings.Index(mediaType, ";"); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(content)
}

// decodeDataURI accepts a data URI or bare base64 and tolerates missing padding.
func decodeDataURI(data string) ([]byte, error) {
	if idx := strings.LastIndex(data, ","); idx >= 0 {
		data = data[idx+1:]
	}
	data = strings.TrimSpace(data)
	if rem := len(data) % 4; rem != 0 {
		data += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(data)
}

var imageSuffixes = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tiff": true,
}

func isImagePath(path string) bool {
	return imageSuffixes[strings.ToLower(filepath.Ext(path))]
}
