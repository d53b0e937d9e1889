package pubsub

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// New creates the pub/sub backend named by the pubsub.backend setting:
// "local" (default) for single-instance deployments, "redis" for
// multi-instance fan-out of the change feed.
func New(backend, redisURL string) (PubSub, error) {
	switch backend {
	case "local", "":
		log.Info().Msg("Using local pub/sub (single instance mode)")
		return NewLocalPubSub(), nil

	case "redis":
		if redisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis pub/sub backend")
		}
		log.Info().Msg("Using Redis-compatible pub/sub (multi-instance mode)")
		ps, err := NewRedisPubSub(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis for pub/sub: %w", err)
		}
		return ps, nil

	default:
		return nil, fmt.Errorf("unknown pub/sub backend: %s (valid options: local, redis)", backend)
	}
}
