// Package media stores images shared in chat. Uploads are checked against the
// declared extension, downscaled to a maximum dimension and written to a Blob
// backend (local directory or S3).
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/alumnichat/internal/apperr"
	"github.com/alumnichat/internal/logger"
)

// Blob: место хранения загруженных файлов. Put возвращает публичный URL.
type Blob interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Result: ответ после успешной загрузки.
type Result struct {
	ImageURL    string `json:"image_url"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
}

type Service struct {
	blob    Blob
	maxSize int64
	maxDim  int
}

// New: maxSize в байтах, maxDim: максимальная сторона в пикселях (0: не уменьшать).
func New(blob Blob, maxSize int64, maxDim int) *Service {
	if maxSize <= 0 {
		maxSize = 10 << 20
	}
	return &Service{blob: blob, maxSize: maxSize, maxDim: maxDim}
}

func (s *Service) MaxSize() int64 { return s.maxSize }

// UploadImage validates, downscales and stores one image owned by userID.
func (s *Service) UploadImage(ctx context.Context, userID, filename string, r io.Reader) (*Result, error) {
	defer logger.DeferLogDuration("media.UploadImage", time.Now())()

	// В ряде клиентов пробел в имени приходит как "+".
	rawName := strings.ReplaceAll(filepath.Base(filename), "+", " ")
	ext := strings.ToLower(filepath.Ext(rawName))
	contentType, ok := imageTypes[ext]
	if !ok {
		return nil, apperr.Validation("only jpg, png and gif images are allowed")
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("media read: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, apperr.Validation("file too large")
	}
	if !matchMagic(ext, data) {
		return nil, apperr.Validation("file content does not match type")
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperr.Validation("cannot decode image")
	}
	b := img.Bounds()
	// gif не перекодируем, чтобы не терять анимацию
	if s.maxDim > 0 && ext != ".gif" && (b.Dx() > s.maxDim || b.Dy() > s.maxDim) {
		format, err := imaging.FormatFromExtension(ext)
		if err != nil {
			return nil, apperr.Validation("unsupported image format")
		}
		fitted := imaging.Fit(img, s.maxDim, s.maxDim, imaging.Lanczos)
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, fitted, format, imaging.JPEGQuality(85)); err != nil {
			return nil, fmt.Errorf("media encode: %w", err)
		}
		data = buf.Bytes()
		b = fitted.Bounds()
	}

	key := userID + "/" + uuid.New().String() + ext
	url, err := s.blob.Put(ctx, key, contentType, data)
	if err != nil {
		return nil, apperr.Persistence("media.Put", err)
	}

	display := safeFilename(rawName)
	if display == "" {
		display = filepath.Base(key)
	}
	return &Result{
		ImageURL:    url,
		FileName:    display,
		FileSize:    int64(len(data)),
		ContentType: contentType,
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

func matchMagic(ext string, head []byte) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	}
	return false
}
