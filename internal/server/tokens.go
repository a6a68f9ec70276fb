package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/tokenmeter/internal/ledger/domain"
	usagedomain "github.com/smallbiznis/tokenmeter/internal/usage/domain"
	"go.uber.org/zap"
)

func (s *Server) GetBalance(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	balance, err := s.ledgerSvc.Balance(c.Request.Context(), principal.AccountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "account_id": principal.AccountID.String(), "balance": balance})
}

func (s *Server) ListTransactions(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	pageSize, err := parsePageSize(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.ledgerSvc.ListTransactions(c.Request.Context(), ledgerdomain.ListTransactionsRequest{
		AccountID: principal.AccountID,
		Kind:      ledgerdomain.TransactionKind(strings.TrimSpace(c.Query("kind"))),
		PageSize:  pageSize,
		PageToken: c.Query("page_token"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"transactions":    resp.Transactions,
		"next_page_token": resp.NextPageToken,
	})
}

func (s *Server) ListUsage(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	pageSize, err := parsePageSize(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.usageSvc.List(c.Request.Context(), usagedomain.ListRequest{
		AccountID:   principal.AccountID,
		RequestType: usagedomain.RequestType(strings.TrimSpace(c.Query("request_type"))),
		PageSize:    pageSize,
		PageToken:   c.Query("page_token"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"usage_records":   resp.UsageRecords,
		"next_page_token": resp.NextPageToken,
	})
}

// ReportUsage bills usage measured outside the proxy. The debit lands first,
// referencing the pre-allocated record id, so an unfunded report leaves no
// usage row behind. Once debited, the record is written detached from the
// request context.
func (s *Server) ReportUsage(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req usagedomain.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.AccountID = principal.AccountID
	if !req.RequestType.Valid() {
		AbortWithError(c, usagedomain.ErrInvalidRequestType)
		return
	}
	_, cost, err := req.Totals()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	req.ID = s.genID.Generate()
	req.CostTokens = &cost

	var balance *int64
	if cost > 0 {
		ref := req.ID.String()
		res, err := s.ledgerSvc.Debit(ctx, ledgerdomain.DebitRequest{
			AccountID:   principal.AccountID,
			Amount:      uint64(cost),
			Description: "usage " + string(req.RequestType),
			ReferenceID: &ref,
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		balance = &res.Balance
	}

	// the debit has committed; the record must follow even if the client left
	ctx = context.WithoutCancel(ctx)
	record, err := s.usageSvc.Record(ctx, req)
	if err != nil {
		s.log.Error("usage record failed after debit",
			zap.String("usage_id", req.ID.String()),
			zap.String("account_id", principal.AccountID.String()),
			zap.Int64("cost_tokens", cost),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	if balance == nil {
		current, err := s.ledgerSvc.Balance(ctx, principal.AccountID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		balance = &current
	}

	c.JSON(http.StatusCreated, gin.H{"ok": true, "usage_record": record, "balance": *balance})
}
