package service

import (
	"context"
	"crypto/subtle"
	"strings"

	apikeydomain "github.com/smallbiznis/tokenmeter/internal/apikey/domain"
	"github.com/smallbiznis/tokenmeter/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  apikeydomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  apikeydomain.Repository
	clock clock.Clock
}

func New(p Params) apikeydomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		repo:  p.Repo,
		clock: clk,
	}
}

// Authenticate resolves a raw bearer key to its principal. Unknown,
// revoked and expired keys are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (*apikeydomain.Principal, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return nil, apikeydomain.ErrUnauthenticated
	}

	hash := apikeydomain.HashAPIKey(rawKey)
	key, err := s.repo.FindActiveByHash(ctx, s.db, hash, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if key == nil || subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		s.log.Debug("api key rejected", zap.String("fingerprint", apikeydomain.Fingerprint(hash)))
		return nil, apikeydomain.ErrUnauthenticated
	}

	role := key.Role
	if role == "" {
		role = apikeydomain.RoleAccount
	}
	scopes := make([]string, 0, len(key.Scopes))
	scopes = append(scopes, key.Scopes...)

	return &apikeydomain.Principal{
		KeyID:     key.ID,
		AccountID: key.AccountID,
		Role:      role,
		Scopes:    scopes,
	}, nil
}
