package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/milelog/milelog/internal/ledger"
	"github.com/milelog/milelog/internal/trip"
	"go.uber.org/zap"
)

// TripHandler exposes the trip mutation and query endpoints. Every mutation
// goes through the ledger writer; there is no code path that updates a trip
// in place.
type TripHandler struct {
	writer *ledger.Writer
	store  ledger.Store
	logger *zap.Logger
}

// NewTripHandler creates a TripHandler.
func NewTripHandler(writer *ledger.Writer, store ledger.Store, logger *zap.Logger) *TripHandler {
	return &TripHandler{writer: writer, store: store, logger: logger}
}

// Register mounts the trip routes on the given router group.
func (h *TripHandler) Register(rg *gin.RouterGroup) {
	t := rg.Group("/trips")
	{
		t.POST("", h.Create)
		t.GET("", h.List)
		t.POST("/:id/amend", h.Amend)
		t.POST("/:id/void", h.Void)
		t.GET("/:id/history", h.History)
	}
}

type createTripRequest struct {
	trip.Record
	Source    ledger.Source       `json:"source"`
	SourceDoc *ledger.DocumentRef `json:"source_document"`
}

// Create handles POST /trips.
func (h *TripHandler) Create(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req createTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed trip payload"})
		return
	}

	entry, err := h.writer.Append(c.Request.Context(), userID, ledger.Create{
		Record:    req.Record,
		Source:    req.Source,
		SourceDoc: req.SourceDoc,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	RecordLedgerAppend(string(entry.Operation))
	c.JSON(http.StatusCreated, entry)
}

type amendTripRequest struct {
	Patch     trip.Patch          `json:"patch"`
	Reason    string              `json:"reason"`
	Source    ledger.Source       `json:"source"`
	SourceDoc *ledger.DocumentRef `json:"source_document"`
}

// Amend handles POST /trips/:id/amend.
func (h *TripHandler) Amend(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trip id"})
		return
	}

	var req amendTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed amend payload"})
		return
	}

	entry, err := h.writer.Append(c.Request.Context(), userID, ledger.Amend{
		TripID:    tripID,
		Patch:     req.Patch,
		Reason:    req.Reason,
		Source:    req.Source,
		SourceDoc: req.SourceDoc,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	RecordLedgerAppend(string(entry.Operation))
	c.JSON(http.StatusCreated, entry)
}

type voidTripRequest struct {
	Reason string        `json:"reason"`
	Source ledger.Source `json:"source"`
}

// Void handles POST /trips/:id/void.
func (h *TripHandler) Void(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trip id"})
		return
	}

	var req voidTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed void payload"})
		return
	}

	entry, err := h.writer.Append(c.Request.Context(), userID, ledger.Void{
		TripID: tripID,
		Reason: req.Reason,
		Source: req.Source,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	RecordLedgerAppend(string(entry.Operation))
	c.JSON(http.StatusCreated, entry)
}

// List handles GET /trips — the current (most recent non-void) state of
// every live trip.
func (h *TripHandler) List(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	current, err := h.store.CurrentEntries(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	type liveTrip struct {
		TripID    string      `json:"trip_id"`
		EntryHash string      `json:"entry_hash"`
		Record    trip.Record `json:"record"`
	}
	trips := make([]liveTrip, 0, len(current))
	for _, e := range current {
		if e.Operation == ledger.OpVoid {
			continue
		}
		trips = append(trips, liveTrip{
			TripID:    e.TripID.String(),
			EntryHash: e.Hash,
			Record:    e.Snapshot,
		})
	}
	c.JSON(http.StatusOK, gin.H{"trips": trips})
}

// History handles GET /trips/:id/history — every ledger entry that ever
// touched the trip, voided or not.
func (h *TripHandler) History(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trip id"})
		return
	}

	entries, err := h.store.Entries(c.Request.Context(), userID, nil)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	var history []*ledger.Entry
	for _, e := range entries {
		if e.TripID == tripID {
			history = append(history, e)
		}
	}
	if len(history) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "trip not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": history})
}
