package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"orderflow/internal/platform/dependency"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrNoEmail      = errors.New("user has no email address")
)

const emailKeyPrefix = "notification:user_email:"

// UserDirectory looks up user email addresses through the user service and
// caches them in redis. A nil cache disables caching.
type UserDirectory struct {
	client *dependency.Client
	cache  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewUserDirectory(client *dependency.Client, cache *redis.Client, ttl time.Duration, logger *zap.Logger) *UserDirectory {
	return &UserDirectory{client: client, cache: cache, ttl: ttl, logger: logger}
}

// Email returns the address of userID. Cache failures are logged and fall
// through to the user service.
func (d *UserDirectory) Email(ctx context.Context, userID uuid.UUID) (string, error) {
	key := emailKeyPrefix + userID.String()

	if d.cache != nil {
		email, err := d.cache.Get(ctx, key).Result()
		switch {
		case err == nil && email != "":
			return email, nil
		case err != nil && !errors.Is(err, redis.Nil):
			d.logger.Warn("Failed to read user email from cache",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		}
	}

	email, err := d.fetch(ctx, userID)
	if err != nil {
		return "", err
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, key, email, d.ttl).Err(); err != nil {
			d.logger.Warn("Failed to cache user email",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		}
	}
	return email, nil
}

func (d *UserDirectory) fetch(ctx context.Context, userID uuid.UUID) (string, error) {
	resp, err := d.client.Do(ctx, dependency.Request{
		Method: http.MethodGet,
		Path:   "/users/" + userID.String(),
	})
	if err != nil {
		if dependency.StatusCode(err) == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return "", fmt.Errorf("failed to fetch user %s: %w", userID, err)
	}

	var user struct {
		Email string `json:"email"`
	}
	if err := resp.DecodeJSON(&user); err != nil {
		return "", fmt.Errorf("failed to fetch user %s: %w", userID, err)
	}
	if user.Email == "" {
		return "", fmt.Errorf("%w: %s", ErrNoEmail, userID)
	}
	return user.Email, nil
}
