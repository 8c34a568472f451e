package internal

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	imageMaxWidth  = 40
	imageMaxHeight = 20
	// maxImagePixels bounds what decodeImage will allocate for one image.
	maxImagePixels = 4096 * 4096
)

var errImageTooLarge = errors.New("image too large")

// renderImageBlocks draws an image as rows of "▀" cells: the foreground is
// the upper pixel and the background the lower one, so each text row covers
// two pixel rows.
func renderImageBlocks(data string, maxWidth, maxHeight int) ([]string, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("empty image")
	}

	aspect := float64(height) / float64(width)
	newWidth := min(maxWidth, width)
	newHeight := int(float64(newWidth) * aspect)
	if newHeight > maxHeight {
		newHeight = maxHeight
		newWidth = int(float64(newHeight) / aspect)
	}
	newWidth = max(newWidth, 1)
	newHeight = max(newHeight, 1)

	sample := func(x, y int) lipgloss.Color {
		sx := bounds.Min.X + x*width/newWidth
		sy := bounds.Min.Y + y*height/newHeight
		r, g, b, _ := img.At(sx, sy).RGBA()
		return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8))
	}

	lines := make([]string, 0, (newHeight+1)/2)
	for y := 0; y < newHeight; y += 2 {
		var line strings.Builder
		for x := 0; x < newWidth; x++ {
			upper := sample(x, y)
			lower := sample(x, min(y+1, newHeight-1))
			line.WriteString(lipgloss.NewStyle().Foreground(upper).Background(lower).Render("▀"))
		}
		lines = append(lines, line.String())
	}
	return lines, nil
}

// decodeImage checks the header dimensions before decoding so a tiny payload
// cannot claim a huge canvas.
func decodeImage(data string) (image.Image, error) {
	raw, err := decodeDataURI(data)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	config, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return nil, errors.New("empty image")
	}
	if int64(config.Width)*int64(config.Height) > maxImagePixels {
		return nil, fmt.Errorf("%w: %dx%d", errImageTooLarge, config.Width, config.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
