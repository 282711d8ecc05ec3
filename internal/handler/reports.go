package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/milelog/milelog/internal/report"
	"go.uber.org/zap"
)

// ReportHandler exposes report generation, retrieval and auditing.
type ReportHandler struct {
	generator *report.Generator
	reports   report.Store
	logger    *zap.Logger
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(generator *report.Generator, reports report.Store, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{generator: generator, reports: reports, logger: logger}
}

// Register mounts the report routes on the given router group.
func (h *ReportHandler) Register(rg *gin.RouterGroup) {
	r := rg.Group("/reports")
	{
		r.POST("", h.Generate)
		r.GET("", h.List)
		r.GET("/:id", h.Get)
		r.POST("/:id/audit", h.Audit)
	}
}

type generateReportRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	ProjectID string `json:"project_id"`
}

// Generate handles POST /reports.
func (h *ReportHandler) Generate(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req generateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed report request"})
		return
	}
	if req.StartDate == "" || req.EndDate == "" || req.EndDate < req.StartDate {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date and end_date must form a valid period"})
		return
	}

	rep, err := h.generator.Generate(c.Request.Context(), userID, req.ProjectID, req.StartDate, req.EndDate)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	RecordReportGenerated()
	c.JSON(http.StatusCreated, rep)
}

// List handles GET /reports.
func (h *ReportHandler) List(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	reports, err := h.reports.ListByUser(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

// Get handles GET /reports/:id.
func (h *ReportHandler) Get(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	reportID, ok := parseReportID(c)
	if !ok {
		return
	}

	rep, err := h.reports.GetByID(c.Request.Context(), userID, reportID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if rep == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

// Audit handles POST /reports/:id/audit. It re-verifies the chain window the
// report pinned and re-checks the signature, flagging the report as tampered
// when either the ledger or the stored report no longer matches.
func (h *ReportHandler) Audit(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	reportID, ok := parseReportID(c)
	if !ok {
		return
	}

	result, err := h.generator.Audit(c.Request.Context(), userID, reportID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if result.Tampered {
		RecordVerifyFailure()
	}
	c.JSON(http.StatusOK, result)
}

func parseReportID(c *gin.Context) (uuid.UUID, bool) {
	reportID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
		return uuid.Nil, false
	}
	return reportID, true
}
