package repository

import (
	"context"
	"time"

	apikeydomain "github.com/smallbiznis/tokenmeter/internal/apikey/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

func (r *repo) FindActiveByHash(ctx context.Context, db *gorm.DB, hash string, now time.Time) (*apikeydomain.APIKey, error) {
	var key apikeydomain.APIKey
	err := db.WithContext(ctx).Raw(
		`SELECT id, account_id, key_hash, role, scopes, is_active, expires_at, created_at
		 FROM api_keys
		 WHERE key_hash = ?
		   AND is_active = ?
		   AND (expires_at IS NULL OR expires_at > ?)
		 LIMIT 1`,
		hash,
		true,
		now,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}
