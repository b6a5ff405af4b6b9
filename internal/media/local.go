package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// LocalStore пишет файлы в каталог на диске и раздаёт их через Serve.
// Ключ "user/uuid.ext" хранится плоско как "user_uuid.ext".
type LocalStore struct {
	Dir       string
	URLPrefix string
}

func NewLocalStore(dir, urlPrefix string) *LocalStore {
	return &LocalStore{Dir: dir, URLPrefix: strings.TrimRight(urlPrefix, "/")}
}

func (s *LocalStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := strings.ReplaceAll(key, "/", "_")
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("localStore.Put mkdir: %w", err)
	}
	dstPath := filepath.Join(s.Dir, name)
	tmp := dstPath + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("localStore.Put write: %w", err)
	}
	if err := os.Rename(tmp, dstPath); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("localStore.Put rename: %w", err)
	}
	return s.URLPrefix + "/" + name, nil
}

// Serve отдаёт файл по имени; путь из запроса не выходит за пределы Dir.
func (s *LocalStore) Serve(w http.ResponseWriter, r *http.Request, filename string) {
	filename = filepath.Base(filename)
	if filename == "." || filename == "/" || strings.HasSuffix(filename, ".part") {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	f, err := os.Open(filepath.Join(s.Dir, filename))
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	if ct, ok := imageTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}

// safeFilename оставляет имя файла безопасным для отображения (без управляющих символов и кавычек).
// Поддерживается UTF-8, чтобы сохранять кириллицу и другие языки.
func safeFilename(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\r', '\n', '"', '\\', '/', '\x00':
			continue
		}
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
