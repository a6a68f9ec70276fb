package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectProxy   = "proxy"
	ObjectTokens  = "tokens"
	ObjectAccount = "account"
	ObjectLedger  = "ledger"
	ObjectDeposit = "deposit"
)

const (
	ActionProxyCall      = "proxy.call"
	ActionTokensView     = "tokens.view"
	ActionTokensReport   = "tokens.report"
	ActionAccountsOpen   = "accounts.open"
	ActionLedgerAdjust   = "ledger.adjust"
	ActionDepositConfirm = "deposit.confirm"
)

const (
	RoleAccount = "role:account"
	RoleAdmin   = "role:admin"
)

var Module = fx.Module("authorization",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer persists policies through the gorm adapter (casbin_rule).
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, fmt.Errorf("casbin adapter: %w", err)
	}
	return buildEnforcer(adapter)
}

// NewMemoryEnforcer holds the seeded policies without a store.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	return buildEnforcer(nil)
}

func buildEnforcer(adapter persist.Adapter) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("casbin model: %w", err)
	}

	params := []interface{}{m}
	if adapter != nil {
		params = append(params, adapter)
	}
	enforcer, err := casbin.NewSyncedEnforcer(params...)
	if err != nil {
		return nil, err
	}
	if adapter != nil {
		enforcer.EnableAutoSave(true)
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, fmt.Errorf("load policy: %w", err)
		}
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, fmt.Errorf("seed policy: %w", err)
	}
	return enforcer, enforcer.BuildRoleLinks()
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

// Authorize accepts a bare role ("admin") or a subject ("role:admin").
func (s *ServiceImpl) Authorize(ctx context.Context, role string, object string, action string) error {
	subject := roleSubject(role)
	if subject == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func roleSubject(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return ""
	}
	if strings.HasPrefix(role, "role:") {
		return role
	}
	return "role:" + role
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{RoleAccount, ObjectProxy, ActionProxyCall},
		{RoleAccount, ObjectTokens, ActionTokensView},
		{RoleAccount, ObjectTokens, ActionTokensReport},

		{RoleAdmin, ObjectAccount, ActionAccountsOpen},
		{RoleAdmin, ObjectLedger, ActionLedgerAdjust},
		{RoleAdmin, ObjectDeposit, ActionDepositConfirm},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	// admin inherits everything an account may do
	if _, err := enforcer.AddGroupingPolicy(RoleAdmin, RoleAccount); err != nil {
		return err
	}
	return nil
}
