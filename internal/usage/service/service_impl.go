package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenmeter/internal/clock"
	obsmetrics "github.com/smallbiznis/tokenmeter/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/tokenmeter/internal/usage/domain"
	"github.com/smallbiznis/tokenmeter/pkg/db"
	"github.com/smallbiznis/tokenmeter/pkg/db/pagination"
	"github.com/smallbiznis/tokenmeter/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	usagerepo  repository.Repository[usagedomain.UsageRecord]
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:      p.GenID,
		clock:      clk,
		usagerepo:  repository.ProvideStore[usagedomain.UsageRecord](p.DB),
		obsMetrics: p.ObsMetrics,
	}
}

// Record appends one usage row. It never touches the ledger.
func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.UsageRecord, error) {
	if req.AccountID == 0 {
		return nil, usagedomain.ErrInvalidAccount
	}
	if !req.RequestType.Valid() {
		return nil, usagedomain.ErrInvalidRequestType
	}
	total, cost, err := req.Totals()
	if err != nil {
		return nil, err
	}

	id := req.ID
	if id == 0 {
		id = s.genID.Generate()
	}

	record := &usagedomain.UsageRecord{
		ID:           id,
		AccountID:    req.AccountID,
		RequestType:  req.RequestType,
		RequestID:    normalizeOptional(req.RequestID),
		Model:        normalizeOptional(req.Model),
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
		TotalTokens:  total,
		CostTokens:   cost,
		CreatedAt:    s.clock.Now(),
	}
	if req.Metadata != nil {
		record.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.usagerepo.Create(ctx, record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, usagedomain.ErrDuplicateRecord
		}
		return nil, err
	}

	s.obsMetrics.RecordUsage(ctx, string(record.RequestType))
	s.log.Debug("usage recorded",
		zap.String("usage_id", record.ID.String()),
		zap.String("account_id", record.AccountID.String()),
		zap.String("request_type", string(record.RequestType)),
		zap.Int64("total_tokens", record.TotalTokens),
		zap.Int64("cost_tokens", record.CostTokens),
	)
	return record, nil
}

func (s *Service) List(ctx context.Context, req usagedomain.ListRequest) (usagedomain.ListResponse, error) {
	if req.AccountID == 0 {
		return usagedomain.ListResponse{}, usagedomain.ErrInvalidAccount
	}
	pageSize := pagination.Size(req.PageSize)

	query := s.db.WithContext(ctx).Where("account_id = ?", req.AccountID)
	if req.RequestType != "" {
		if !req.RequestType.Valid() {
			return usagedomain.ListResponse{}, usagedomain.ErrInvalidRequestType
		}
		query = query.Where("request_type = ?", req.RequestType)
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return usagedomain.ListResponse{}, usagedomain.ErrInvalidPageToken
	}
	if cursor != 0 {
		query = query.Where("id < ?", cursor)
	}

	var items []usagedomain.UsageRecord
	if err := query.Order("id DESC").Limit(pageSize + 1).Find(&items).Error; err != nil {
		return usagedomain.ListResponse{}, err
	}

	items, info := pagination.Trim(items, pageSize, func(r usagedomain.UsageRecord) snowflake.ID { return r.ID })
	return usagedomain.ListResponse{
		UsageRecords:  items,
		NextPageToken: info.NextPageToken,
	}, nil
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
