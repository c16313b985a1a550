package agent

import (
	"bytes"
	"encoding/base64"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/agentd/internal/providers"
)

const (
	// maxImageDim is the vision budget; larger images are downscaled.
	maxImageDim = 1568

	jpegQuality = 85
)

// loadImages decodes channel-downloaded image files into vision
// attachments, downscaling anything over the dimension budget.
// Unreadable files are skipped with a warning.
func loadImages(paths []string) []providers.ImageContent {
	var out []providers.ImageContent
	for _, p := range paths {
		p = strings.TrimSpace(p)
		format, mime := imageFormat(p)
		if mime == "" {
			continue
		}

		img, err := imaging.Open(p, imaging.AutoOrientation(true))
		if err != nil {
			slog.Warn("agent.image_unreadable", "path", p, "error", err)
			continue
		}

		if b := img.Bounds(); b.Dx() > maxImageDim || b.Dy() > maxImageDim {
			img = imaging.Fit(img, maxImageDim, maxImageDim, imaging.Lanczos)
			format, mime = imaging.JPEG, "image/jpeg"
		}

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(jpegQuality)); err != nil {
			slog.Warn("agent.image_encode_failed", "path", p, "error", err)
			continue
		}

		out = append(out, providers.ImageContent{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		})
	}
	return out
}

// imageFormat maps a filename to its encode format and MIME type, or
// empty strings for unsupported extensions.
func imageFormat(path string) (imaging.Format, string) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return imaging.JPEG, "image/jpeg"
	case ".png":
		return imaging.PNG, "image/png"
	case ".gif":
		return imaging.GIF, "image/gif"
	default:
		return 0, ""
	}
}
