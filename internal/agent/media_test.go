package agent

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	_ "image/jpeg"
)

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x % 256), A: 255})
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	return path
}

func TestLoadImages(t *testing.T) {
	dir := t.TempDir()
	small := writePNG(t, dir, "small.png", 64, 48)

	t.Run("small image kept as png", func(t *testing.T) {
		got := loadImages([]string{small})
		if len(got) != 1 {
			t.Fatalf("attachments = %d, want 1", len(got))
		}
		if got[0].MimeType != "image/png" {
			t.Errorf("mime = %q", got[0].MimeType)
		}
		data, err := base64.StdEncoding.DecodeString(got[0].Data)
		if err != nil {
			t.Fatalf("data is not base64: %v", err)
		}
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if format != "png" || cfg.Width != 64 {
			t.Errorf("decoded %s %dx%d", format, cfg.Width, cfg.Height)
		}
	})

	t.Run("oversized image downscaled to jpeg", func(t *testing.T) {
		big := writePNG(t, dir, "big.png", maxImageDim+400, 200)
		got := loadImages([]string{big})
		if len(got) != 1 {
			t.Fatalf("attachments = %d, want 1", len(got))
		}
		if got[0].MimeType != "image/jpeg" {
			t.Errorf("mime = %q, want image/jpeg", got[0].MimeType)
		}
		data, err := base64.StdEncoding.DecodeString(got[0].Data)
		if err != nil {
			t.Fatalf("data is not base64: %v", err)
		}
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if format != "jpeg" {
			t.Errorf("decoded format = %q", format)
		}
		if cfg.Width > maxImageDim || cfg.Height > maxImageDim {
			t.Errorf("still oversized: %dx%d", cfg.Width, cfg.Height)
		}
	})

	t.Run("unsupported and missing paths skipped", func(t *testing.T) {
		got := loadImages([]string{
			filepath.Join(dir, "missing.png"),
			filepath.Join(dir, "sticker.webp"),
			" ",
			small,
		})
		if len(got) != 1 {
			t.Errorf("attachments = %d, want 1 (only the readable png)", len(got))
		}
	})
}
