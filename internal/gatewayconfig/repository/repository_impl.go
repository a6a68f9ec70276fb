package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	gatewayconfigdomain "github.com/smallbiznis/tokenmeter/internal/gatewayconfig/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type repo struct {
	db  *gorm.DB
	log *zap.Logger
}

func Provide(p Params) gatewayconfigdomain.Repository {
	return &repo{db: p.DB, log: p.Log.Named("gatewayconfig.repository")}
}

// Get reads the config on every call; nothing is cached between accounts.
func (r *repo) Get(ctx context.Context, accountID snowflake.ID) (*gatewayconfigdomain.GatewayConfig, error) {
	if accountID == 0 {
		return nil, gatewayconfigdomain.ErrNotConfigured
	}

	var cfg gatewayconfigdomain.GatewayConfig
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gatewayconfigdomain.ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" || strings.TrimSpace(cfg.BearerToken) == "" {
		r.log.Warn("gateway config incomplete", zap.String("account_id", accountID.String()))
		return nil, gatewayconfigdomain.ErrNotConfigured
	}
	return &cfg, nil
}
