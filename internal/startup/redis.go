package startup

import (
	"context"
	"os"
	"time"

	redisstorage "github.com/alumnichat/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis (зеркало присутствия) с повторами.
func ConnectRedisWithRetry(redisURL string, ttl, maxWait time.Duration, logPrefix string) *redisstorage.Client {
	client, err := Retry(maxWait, logPrefix+"redis", func() (*redisstorage.Client, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return redisstorage.New(ctx, redisURL, ttl)
	})
	if err != nil {
		os.Exit(1)
	}
	return client
}
