package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/procflow/pkg/config"
	"github.com/dukex/procflow/pkg/identity"
	redisdirectory "github.com/dukex/procflow/pkg/identity/redis"
	"github.com/dukex/procflow/pkg/lock"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses a redis:// URL. An empty URL returns nil.
func NewRedisClient(ctx context.Context, redisURL string) (redis.UniversalClient, error) {
	if redisURL == "" {
		return nil, nil
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// NewDirectory returns the Redis directory when client is set, seeding it from
// directoryFile if given; otherwise a static directory loaded from the file.
func NewDirectory(ctx context.Context, client redis.UniversalClient, directoryFile string, logger *slog.Logger) (identity.Directory, error) {
	if client == nil {
		return config.LoadDirectory(directoryFile)
	}

	directory := redisdirectory.NewDirectory(client, "", logger)

	if directoryFile != "" {
		file, err := config.LoadDirectoryFile(directoryFile)
		if err != nil {
			return nil, err
		}

		if err := file.Seed(ctx, directory); err != nil {
			return nil, fmt.Errorf("failed to seed directory: %w", err)
		}
	}

	return directory, nil
}

// NewLocker shares locks through Redis when a client is configured.
func NewLocker(client redis.UniversalClient) lock.Locker {
	if client == nil {
		return lock.NewLocal()
	}

	return lock.NewRedis(client, "")
}
