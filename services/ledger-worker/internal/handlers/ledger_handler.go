package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nimeshabuddhika/custodial-ledger/pkg"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/ledger"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/utils"
	"github.com/nimeshabuddhika/custodial-ledger/pkg/views"
	"github.com/nimeshabuddhika/custodial-ledger/services/ledger-worker/internal/services"
	"go.uber.org/zap"
)

// LedgerHandler serves read-only ledger queries and deposit intake for operators.
type LedgerHandler struct {
	logger   *zap.Logger
	store    ledger.Store
	recorder services.DepositRecorder
}

func NewLedgerHandler(logger *zap.Logger, store ledger.Store, recorder services.DepositRecorder) *LedgerHandler {
	return &LedgerHandler{logger: logger, store: store, recorder: recorder}
}

// RegisterRoutes registers ledger routes on the provided group.
func (h *LedgerHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:clientId/:coinSymbol", h.GetAccount)
	r.GET("/clients/:clientId/withdrawals/:key", h.GetWithdrawal)
	r.POST("/deposits", h.CreateDeposit)
}

func (h *LedgerHandler) GetAccount(c *gin.Context) {
	traceID, ok := h.traceID(c)
	if !ok {
		return
	}
	clientID, err := parseClientID(c.Param("clientId"))
	if err != nil {
		h.fail(c, traceID, err)
		return
	}
	coin := strings.ToUpper(strings.TrimSpace(c.Param("coinSymbol")))

	account, err := h.store.GetAccount(c.Request.Context(), clientID, coin)
	if err != nil {
		h.fail(c, traceID, notFound(err, "account not found"))
		return
	}
	c.JSON(http.StatusOK, views.APIResponse{TraceID: traceID, Data: account})
}

func (h *LedgerHandler) GetWithdrawal(c *gin.Context) {
	traceID, ok := h.traceID(c)
	if !ok {
		return
	}
	clientID, err := parseClientID(c.Param("clientId"))
	if err != nil {
		h.fail(c, traceID, err)
		return
	}

	withdrawal, err := h.store.FindWithdrawal(c.Request.Context(), clientID, c.Param("key"))
	if err != nil {
		h.fail(c, traceID, notFound(err, "withdrawal not found"))
		return
	}
	c.JSON(http.StatusOK, views.APIResponse{TraceID: traceID, Data: withdrawal})
}

func (h *LedgerHandler) CreateDeposit(c *gin.Context) {
	traceID, ok := h.traceID(c)
	if !ok {
		return
	}
	var req views.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, traceID, pkg.NewAppError(pkg.ErrInvalidInputCode, "invalid request body", err))
		return
	}

	deposit, err := h.recorder.RecordDeposit(c.Request.Context(), traceID, req)
	if err != nil {
		h.fail(c, traceID, err)
		return
	}
	c.JSON(http.StatusCreated, views.APIResponse{TraceID: traceID, Data: deposit})
}

func (h *LedgerHandler) traceID(c *gin.Context) (string, bool) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		h.fail(c, "", err)
		return "", false
	}
	return traceID, true
}

func (h *LedgerHandler) fail(c *gin.Context, traceID string, err error) {
	resp := pkg.ToErrorResponse(h.logger, traceID, err)
	c.AbortWithStatusJSON(resp.Status, resp)
}

func parseClientID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, pkg.NewAppError(pkg.ErrInvalidInputCode, "clientId must be a non-negative integer", err)
	}
	return id, nil
}

func notFound(err error, msg string) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return pkg.NewAppError(pkg.ErrRecordNotFoundCode, msg, nil)
	}
	return err
}
