package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindActiveByHash(ctx context.Context, db *gorm.DB, hash string, now time.Time) (*APIKey, error)
}

type Service interface {
	Authenticate(ctx context.Context, rawKey string) (*Principal, error)
}

var (
	ErrUnauthenticated = errors.New("unauthenticated")
)
