// Package media prepares receipt images for attachment upload: decode a
// data URL, scale the image down to a bounded dimension, re-encode a set
// of candidate formats and keep the smallest result.
package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultMaxDim bounds the longer edge of an uploaded receipt image.
const DefaultMaxDim = 1600

const jpegQuality = 80

// Compressed is the outcome of compressing one receipt image.
type Compressed struct {
	DataURL  string `json:"dataUrl"`
	MimeType string `json:"mimeType"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Size     int    `json:"size"`
}

// ParseDataURL splits a base64 data URL into its MIME type and raw bytes.
func ParseDataURL(s string) (string, []byte, error) {
	if !strings.HasPrefix(s, "data:") {
		return "", nil, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URL")
	}
	mime, enc, ok := strings.Cut(meta, ";")
	if !ok || enc != "base64" {
		return "", nil, fmt.Errorf("data URL is not base64-encoded")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URL payload: %w", err)
	}
	return mime, raw, nil
}

// EncodeDataURL builds a base64 data URL from a MIME type and raw bytes.
func EncodeDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// FromBytes wraps raw file bytes in a data URL, sniffing the MIME type.
func FromBytes(data []byte) string {
	return EncodeDataURL(http.DetectContentType(data), data)
}

// CompressReceipt decodes a receipt image from a data URL, scales it so the
// longer edge does not exceed maxDim, re-encodes JPEG and PNG candidates
// and returns the smallest. When every candidate comes out larger than an
// already-small original, the original is kept as-is.
func CompressReceipt(dataURL string, maxDim int) (Compressed, error) {
	if maxDim <= 0 {
		maxDim = DefaultMaxDim
	}

	mime, raw, err := ParseDataURL(dataURL)
	if err != nil {
		return Compressed{}, err
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Compressed{}, fmt.Errorf("decode receipt image: %w", err)
	}

	scaled, resized := scaleDown(src, maxDim)
	bounds := scaled.Bounds()

	best := candidate{}
	if jpg, err := encodeJPEG(scaled); err == nil {
		best = best.better(candidate{mime: "image/jpeg", data: jpg})
	}
	if pngData, err := encodePNG(scaled); err == nil {
		best = best.better(candidate{mime: "image/png", data: pngData})
	}
	if best.data == nil {
		return Compressed{}, fmt.Errorf("no encoder produced output")
	}

	// A small original that only grew through re-encoding stays untouched.
	if !resized && len(raw) <= len(best.data) {
		best = candidate{mime: mime, data: raw}
	}

	return Compressed{
		DataURL:  EncodeDataURL(best.mime, best.data),
		MimeType: best.mime,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Size:     len(best.data),
	}, nil
}

type candidate struct {
	mime string
	data []byte
}

func (c candidate) better(other candidate) candidate {
	if c.data == nil || len(other.data) < len(c.data) {
		return other
	}
	return c
}

// scaleDown resizes src so its longer edge is at most maxDim, preserving
// aspect ratio. Images already inside the bound pass through.
func scaleDown(src image.Image, maxDim int) (image.Image, bool) {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return src, false
	}

	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}
	dst := image.NewRGBA(image.Rect(0, 0,
		int(float64(w)*scale+0.5), int(float64(h)*scale+0.5)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst, true
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
