package startup

import (
	"fmt"
	"os"
	"path/filepath"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"

	"github.com/alumnichat/internal/logger"
)

// EmbeddedPostgres поднимает локальный PostgreSQL для -dev режима и интеграционных тестов.
// Возвращает запущенную БД и строку подключения к ней.
func EmbeddedPostgres(port uint32, dataDir string) (*embeddedpostgres.EmbeddedPostgres, string, error) {
	const (
		user     = "alumni"
		password = "alumni_secret"
		database = "alumnichat"
	)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), fmt.Sprintf("embedded-pg-runtime-%d", port))),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, "", fmt.Errorf("start: %w", err)
	}
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, password, port, database), nil
}
