package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	depositdomain "github.com/smallbiznis/tokenmeter/internal/deposit/domain"
	ledgerdomain "github.com/smallbiznis/tokenmeter/internal/ledger/domain"
)

type openAccountRequest struct {
	AccountID string `json:"account_id"`
}

type adjustRequest struct {
	Amount      int64   `json:"amount"`
	Description string  `json:"description"`
	ReferenceID *string `json:"reference_id"`
}

type confirmDepositRequest struct {
	AccountID string `json:"account_id"`
	OrderCode string `json:"order_code"`
	Tokens    uint64 `json:"tokens"`
}

// OpenAccount creates the ledger account for a new user. Replays return the
// existing account.
func (s *Server) OpenAccount(c *gin.Context) {
	var req openAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	accountID, err := parseSnowflakeID(req.AccountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	account, err := s.ledgerSvc.OpenAccount(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "account": account})
}

func (s *Server) GetAccountBalance(c *gin.Context) {
	accountID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledgerSvc.Balance(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "account_id": accountID.String(), "balance": balance})
}

func (s *Server) AdjustBalance(c *gin.Context) {
	accountID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	res, err := s.ledgerSvc.Adjust(c.Request.Context(), ledgerdomain.AdjustRequest{
		AccountID:    accountID,
		SignedAmount: req.Amount,
		Description:  strings.TrimSpace(req.Description),
		ReferenceID:  req.ReferenceID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "balance": res.Balance, "transaction": res.Transaction})
}

func (s *Server) ConfirmDeposit(c *gin.Context) {
	var req confirmDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	accountID, err := parseSnowflakeID(req.AccountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.depositSvc.Confirm(c.Request.Context(), depositdomain.ConfirmRequest{
		AccountID: accountID,
		OrderCode: req.OrderCode,
		Tokens:    req.Tokens,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"applied":     res.Applied,
		"balance":     res.Balance,
		"transaction": res.Transaction,
	})
}
