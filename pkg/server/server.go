package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"swapbot/pkg/ledger"
	"swapbot/pkg/orchestrator"
	"swapbot/pkg/types"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service is the orchestrator surface exposed over HTTP.
type Service interface {
	RegisterUser(ctx context.Context, userID int64, source, destination string) (*ledger.User, error)
	InitiateSwap(ctx context.Context, userID int64, gross decimal.Decimal) (*orchestrator.Handle, error)
	Handle(id string) (*orchestrator.Handle, bool)
	Status(ctx context.Context, id string) (*orchestrator.StatusReport, error)
	Recheck(ctx context.Context, signature string) (*ledger.Record, error)
	History(ctx context.Context, userID int64, limit int) ([]*ledger.Record, error)
	Limits(ctx context.Context) (*orchestrator.Limits, error)
}

// HealthChecker reports the height of the chain the service settles on.
type HealthChecker interface {
	BlockHeight(ctx context.Context) (uint64, error)
}

type Server struct {
	svc    Service
	health HealthChecker
	logger *zap.Logger
	engine *gin.Engine
}

func New(svc Service, health HealthChecker, logger *zap.Logger) *Server {
	s := &Server{
		svc:    svc,
		health: health,
		logger: logger.Named("server"),
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.logRequests)

	s.engine.POST("/users", s.registerUser)
	s.engine.GET("/users/:id/transactions", s.history)
	s.engine.POST("/swaps", s.initiateSwap)
	s.engine.GET("/swaps/:id", s.swap)
	s.engine.GET("/status/:id", s.status)
	s.engine.POST("/recheck/:signature", s.recheck)
	s.engine.GET("/limits", s.limits)
	s.engine.GET("/health", s.healthz)
	return s
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("took", time.Since(start)))
}

type registerRequest struct {
	ID                 int64  `json:"id" binding:"required"`
	SourceAddress      string `json:"source_address" binding:"required"`
	DestinationAddress string `json:"destination_address" binding:"required"`
}

func (s *Server) registerUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := s.svc.RegisterUser(c.Request.Context(), req.ID, req.SourceAddress, req.DestinationAddress)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type swapRequest struct {
	UserID int64           `json:"user_id" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type swapView struct {
	ID               string          `json:"id"`
	UserID           int64           `json:"user_id"`
	Gross            decimal.Decimal `json:"gross"`
	Fee              decimal.Decimal `json:"fee"`
	Net              decimal.Decimal `json:"net"`
	Done             bool            `json:"done"`
	Stage            ledger.Stage    `json:"stage,omitempty"`
	DepositSignature string          `json:"deposit_signature,omitempty"`
	FeeSwapSignature string          `json:"fee_swap_signature,omitempty"`
	OrderID          string          `json:"order_id,omitempty"`
	PayinAddress     string          `json:"payin_address,omitempty"`
	BundleID         string          `json:"bundle_id,omitempty"`
	BundleStatus     string          `json:"bundle_status,omitempty"`
	LandedSlot       *uint64         `json:"landed_slot,omitempty"`
	Indeterminate    bool            `json:"indeterminate,omitempty"`
	Error            *errorView      `json:"error,omitempty"`
}

type errorView struct {
	Kind    types.Kind `json:"kind"`
	Message string     `json:"message"`
}

func newSwapView(h *orchestrator.Handle) swapView {
	v := swapView{
		ID:     h.ID,
		UserID: h.Request.UserID,
		Gross:  h.Request.Gross,
		Fee:    h.Request.Fee,
		Net:    h.Request.Net,
	}

	select {
	case <-h.Done():
	default:
		return v
	}

	out, _ := h.Wait(context.Background())
	v.Done = true
	v.Stage = out.Stage
	v.DepositSignature = out.DepositSignature
	v.FeeSwapSignature = out.FeeSwapSignature
	v.Indeterminate = out.Indeterminate()
	if out.Order != nil {
		v.OrderID = out.Order.ID
		v.PayinAddress = out.Order.PayinAddress
	}
	if out.Bundle != nil {
		v.BundleID = out.Bundle.BundleID
		v.BundleStatus = string(out.Bundle.Status)
		v.LandedSlot = out.Bundle.Slot
	}
	if out.Err != nil {
		v.Error = &errorView{Kind: types.KindOf(out.Err), Message: types.UserMessage(out.Err)}
	}
	return v
}

func (s *Server) initiateSwap(c *gin.Context) {
	var req swapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h, err := s.svc.InitiateSwap(c.Request.Context(), req.UserID, req.Amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, newSwapView(h))
}

func (s *Server) swap(c *gin.Context) {
	if h, ok := s.svc.Handle(c.Param("id")); ok {
		c.JSON(http.StatusOK, newSwapView(h))
		return
	}
	// Finished handles are evicted; the ledger still answers for the deposit
	// signature or order id.
	s.status(c)
}

func (s *Server) status(c *gin.Context) {
	report, err := s.svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record":   report.Record,
		"order":    report.Order,
		"rendered": report.String(),
	})
}

func (s *Server) recheck(c *gin.Context) {
	record, err := s.svc.Recheck(c.Request.Context(), c.Param("signature"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) history(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(orchestrator.DefaultHistoryLimit)))

	records, err := s.svc.History(c.Request.Context(), userID, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) limits(c *gin.Context) {
	limits, err := s.svc.Limits(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, limits)
}

func (s *Server) healthz(c *gin.Context) {
	height, err := s.health.BlockHeight(c.Request.Context())
	if err != nil {
		s.logger.Warn("rpc unhealthy", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "block_height": height})
}

func (s *Server) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrUnknownUser),
		errors.Is(err, orchestrator.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrNothingToRecheck):
		code = http.StatusConflict
	case errors.Is(err, orchestrator.ErrAmountTooLarge),
		errors.Is(err, orchestrator.ErrInvalidRequest),
		errors.Is(err, ledger.ErrInvalidInput):
		code = http.StatusBadRequest
	case types.KindOf(err) == types.KindProviderRejected:
		code = http.StatusUnprocessableEntity
	}
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": types.UserMessage(err), "kind": types.KindOf(err)})
}
