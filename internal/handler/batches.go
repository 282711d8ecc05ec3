package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/milelog/milelog/internal/ledger"
	"go.uber.org/zap"
)

// BatchHandler exposes read access to recorded import batches and their
// member entries.
type BatchHandler struct {
	store   ledger.Store
	batches ledger.BatchStore
	logger  *zap.Logger
}

// NewBatchHandler creates a BatchHandler.
func NewBatchHandler(store ledger.Store, batches ledger.BatchStore, logger *zap.Logger) *BatchHandler {
	return &BatchHandler{store: store, batches: batches, logger: logger}
}

// Register mounts the batch routes on the given router group.
func (h *BatchHandler) Register(rg *gin.RouterGroup) {
	b := rg.Group("/batches")
	{
		b.GET("", h.List)
		b.GET("/:batchID", h.Get)
	}
}

// List handles GET /batches.
func (h *BatchHandler) List(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	batches, err := h.batches.BatchesByUser(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches, "count": len(batches)})
}

// Get handles GET /batches/:batchID and includes the batch's member entries.
func (h *BatchHandler) Get(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	batchID, err := uuid.Parse(c.Param("batchID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch id"})
		return
	}

	batch, err := h.batches.BatchByID(c.Request.Context(), userID, batchID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if batch == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	entries, err := h.store.EntriesByBatch(c.Request.Context(), userID, batchID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": batch, "entries": entries})
}
