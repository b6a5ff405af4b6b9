package startup

import (
	"context"
	"os"
	"time"

	mongostorage "github.com/alumnichat/internal/storage/mongo"
)

// ConnectMongoWithRetry подключается к MongoDB с повторами и создаёт индексы.
func ConnectMongoWithRetry(uri, database string, maxWait time.Duration, logPrefix string) *mongostorage.Store {
	store, err := Retry(maxWait, logPrefix+"mongo", func() (*mongostorage.Store, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return mongostorage.Connect(ctx, uri, database)
	})
	if err != nil {
		os.Exit(1)
	}
	return store
}
