package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/milelog/milelog/internal/ledger"
	"go.uber.org/zap"
)

// LedgerHandler exposes read-only access to a user's hash chain plus the
// integrity verification endpoint.
type LedgerHandler struct {
	store    ledger.Store
	verifier *ledger.Verifier
	logger   *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(store ledger.Store, verifier *ledger.Verifier, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{store: store, verifier: verifier, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.List)
		l.GET("/verify", h.Verify)
		l.GET("/entries/:seq", h.EntryBySeq)
	}
}

// List handles GET /ledger. An optional from/to pair restricts the window.
func (h *LedgerHandler) List(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	rng, ok := parseSeqRange(c)
	if !ok {
		return
	}
	entries, err := h.store.Entries(c.Request.Context(), userID, rng)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// Verify handles GET /ledger/verify. With no parameters the whole chain is
// checked back to genesis; from/to restrict the walk to a window.
func (h *LedgerHandler) Verify(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	rng, ok := parseSeqRange(c)
	if !ok {
		return
	}
	result, err := h.verifier.Verify(c.Request.Context(), userID, rng)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if !result.Valid {
		RecordVerifyFailure()
		h.logger.Warn("ledger verification failed",
			zap.String("user_id", userID.String()),
			zap.Int64p("broken_at", result.BrokenAt))
	}
	c.JSON(http.StatusOK, result)
}

// EntryBySeq handles GET /ledger/entries/:seq.
func (h *LedgerHandler) EntryBySeq(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil || seq < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sequence number"})
		return
	}

	entry, err := h.store.EntryBySeq(c.Request.Context(), userID, seq)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// parseSeqRange reads optional from/to query parameters. It writes the error
// response itself and reports false when the input is unusable.
func parseSeqRange(c *gin.Context) (*ledger.SeqRange, bool) {
	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr == "" && toStr == "" {
		return nil, true
	}
	from, err := strconv.ParseInt(fromStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from parameter"})
		return nil, false
	}
	to, err := strconv.ParseInt(toStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to parameter"})
		return nil, false
	}
	if from < 1 || to < from {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be >= 1 and <= to"})
		return nil, false
	}
	return &ledger.SeqRange{From: from, To: to}, true
}
