package cache

import (
	"context"

	"github.com/rotisserie/eris"
)

// Open builds the backend named by driver: "sqlite" uses path, "redis" uses
// redisURL.
func Open(ctx context.Context, driver, path, redisURL string) (Cache, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(path)
	case "redis":
		return NewRedis(ctx, redisURL)
	default:
		return nil, eris.Errorf("cache: unknown driver %q", driver)
	}
}
