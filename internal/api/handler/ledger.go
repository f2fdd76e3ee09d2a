package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/hashledger/internal/auditor"
	"github.com/jmerrifield20/hashledger/internal/auth"
	"github.com/jmerrifield20/hashledger/internal/ledger"
	"github.com/jmerrifield20/hashledger/internal/query"
	"github.com/jmerrifield20/hashledger/internal/verifier"
)

// AuditSource reports the most recent background audit.
type AuditSource interface {
	Last() *auditor.Report
}

// LedgerHandler exposes the ledger over HTTP.
type LedgerHandler struct {
	store   ledger.Store
	audit   AuditSource
	timeout time.Duration
	logger  *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler. timeout bounds every store
// call; zero means no limit beyond the request's own context.
func NewLedgerHandler(store ledger.Store, timeout time.Duration, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{store: store, timeout: timeout, logger: logger}
}

// SetAuditSource enables GET /ledger/audit.
func (h *LedgerHandler) SetAuditSource(a AuditSource) {
	h.audit = a
}

// Register mounts the ledger routes on the given router group. writeAuth
// guards the append route.
func (h *LedgerHandler) Register(rg *gin.RouterGroup, writeAuth gin.HandlerFunc) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.POST("/entries", writeAuth, h.Append)
		l.GET("/entries", h.List)
		l.GET("/entries/:idx", h.GetEntry)
		l.GET("/tail", h.Tail)
		l.GET("/verify", h.Verify)
		l.GET("/operations", h.Operations)
		l.GET("/audit", h.Audit)
	}
}

// AppendRequest is the body of POST /ledger/entries.
type AppendRequest struct {
	Operation string         `json:"operation"`
	Data      map[string]any `json:"data"`
}

// ListResponse is the body of GET /ledger/entries.
type ListResponse struct {
	Entries []*ledger.Entry `json:"entries"`
	Count   int             `json:"count"`
	Stats   query.Stats     `json:"stats"`
}

func (h *LedgerHandler) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

// Append handles POST /ledger/entries.
func (h *LedgerHandler) Append(c *gin.Context) {
	var req AppendRequest
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		RecordAppendFailure("validation")
		abortError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	caller := auth.CallerFrom(c.Request.Context())
	entry, err := h.store.Append(ctx, req.Operation, req.Data)
	if err != nil {
		if ledger.IsValidation(err) {
			RecordAppendFailure("validation")
		} else {
			RecordAppendFailure("storage")
		}
		h.respondErr(c, "append", err)
		return
	}

	RecordAppend(entry.Index)
	h.logger.Info("ledger entry appended",
		zap.Int64("idx", entry.Index),
		zap.String("operation", entry.Operation),
		zap.String("caller", caller.Subject),
	)
	c.JSON(http.StatusCreated, entry)
}

// List handles GET /ledger/entries.
func (h *LedgerHandler) List(c *gin.Context) {
	var crit query.Criteria
	if err := c.ShouldBindQuery(&crit); err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	entries, ranged, err := h.readSelection(ctx, c)
	if err != nil {
		h.respondErr(c, "list", err)
		return
	}

	filtered := query.Filter(entries, crit)
	stats := query.Summarize(entries, filtered)
	if ranged {
		n, err := h.store.Len(ctx)
		if err != nil {
			h.respondErr(c, "list", err)
			return
		}
		stats.ChainLength = n
	}

	c.JSON(http.StatusOK, ListResponse{
		Entries: filtered,
		Count:   len(filtered),
		Stats:   stats,
	})
}

// GetEntry handles GET /ledger/entries/:idx.
func (h *LedgerHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.ParseInt(c.Param("idx"), 10, 64)
	if err != nil || idx < 0 {
		abortError(c, http.StatusBadRequest, "idx must be a non-negative integer")
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	entry, err := h.store.Get(ctx, idx)
	if err != nil {
		h.respondErr(c, "get", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Tail handles GET /ledger/tail.
func (h *LedgerHandler) Tail(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	entry, err := h.store.Tail(ctx)
	if err != nil {
		h.respondErr(c, "tail", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Verify handles GET /ledger/verify. A broken chain is a finding, reported
// with 200 and verified=false.
func (h *LedgerHandler) Verify(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	entries, ranged, err := h.readSelection(ctx, c)
	if err != nil {
		h.respondErr(c, "verify", err)
		return
	}

	opts := []verifier.Option{verifier.WithHasher(h.store.Hasher())}
	if ranged && len(entries) > 0 && entries[0].Index > 0 {
		prev, err := h.store.Get(ctx, entries[0].Index-1)
		if err != nil {
			h.respondErr(c, "verify", err)
			return
		}
		opts = append(opts, verifier.WithAnchor(prev.Index, prev.Hash))
	}

	res := verifier.Verify(entries, opts...)
	RecordVerification(res)
	if !res.Verified {
		h.logger.Warn("ledger integrity check failed",
			zap.Int64("failed_at_index", *res.FailedAtIndex),
			zap.String("reason", string(res.Reason)),
			zap.String("request_id", RequestIDFromCtx(c)),
		)
	}
	c.JSON(http.StatusOK, res)
}

// Operations handles GET /ledger/operations.
func (h *LedgerHandler) Operations(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	entries, err := h.store.ReadAll(ctx)
	if err != nil {
		h.respondErr(c, "operations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": query.ListOperations(entries)})
}

// Overview handles GET /ledger and returns the chain length and current root hash.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	count, err := h.store.Len(ctx)
	if err != nil {
		h.respondErr(c, "overview", err)
		return
	}

	root := ""
	tail, err := h.store.Tail(ctx)
	switch {
	case errors.Is(err, ledger.ErrEmpty):
	case err != nil:
		h.respondErr(c, "overview", err)
		return
	default:
		root = tail.Hash
	}

	c.JSON(http.StatusOK, gin.H{
		"entries":        count,
		"root":           root,
		"hash_algorithm": h.store.Hasher().Name(),
	})
}

// Audit handles GET /ledger/audit.
func (h *LedgerHandler) Audit(c *gin.Context) {
	if h.audit == nil {
		abortError(c, http.StatusNotFound, "background audit is disabled")
		return
	}
	report := h.audit.Last()
	if report == nil {
		abortError(c, http.StatusNotFound, "no audit has completed yet")
		return
	}
	c.JSON(http.StatusOK, report)
}

// readSelection returns ReadAll, or ReadRange when fromIndex or
// toIndexInclusive is present. ranged reports which one ran.
func (h *LedgerHandler) readSelection(ctx context.Context, c *gin.Context) ([]*ledger.Entry, bool, error) {
	fromStr, hasFrom := c.GetQuery("fromIndex")
	toStr, hasTo := c.GetQuery("toIndexInclusive")
	if !hasFrom && !hasTo {
		entries, err := h.store.ReadAll(ctx)
		return entries, false, err
	}

	from, to := int64(0), int64(math.MaxInt64)
	var err error
	if hasFrom {
		if from, err = strconv.ParseInt(fromStr, 10, 64); err != nil {
			return nil, true, &ledger.ValidationError{Op: "read range", Index: -1, Err: errors.New("fromIndex must be an integer")}
		}
	}
	if hasTo {
		if to, err = strconv.ParseInt(toStr, 10, 64); err != nil {
			return nil, true, &ledger.ValidationError{Op: "read range", Index: -1, Err: errors.New("toIndexInclusive must be an integer")}
		}
	}
	entries, err := h.store.ReadRange(ctx, from, to)
	return entries, true, err
}

// respondErr maps store errors onto HTTP statuses.
func (h *LedgerHandler) respondErr(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrEmpty):
		abortError(c, http.StatusNotFound, err.Error())
	case ledger.IsValidation(err):
		abortError(c, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("ledger "+op,
			zap.Error(err),
			zap.String("request_id", RequestIDFromCtx(c)),
		)
		abortError(c, http.StatusServiceUnavailable, "ledger storage unavailable")
	}
}
