package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/milelog/milelog/internal/importer"
	"github.com/milelog/milelog/internal/ledger"
	"go.uber.org/zap"
)

// maxImportBytes caps the accepted upload size.
const maxImportBytes = 8 << 20

// ImportHandler accepts CSV uploads and turns them into ledger batches.
type ImportHandler struct {
	importer *importer.CSVImporter
	logger   *zap.Logger
}

// NewImportHandler creates an ImportHandler.
func NewImportHandler(imp *importer.CSVImporter, logger *zap.Logger) *ImportHandler {
	return &ImportHandler{importer: imp, logger: logger}
}

// Register mounts the import routes on the given router group.
func (h *ImportHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/imports/csv", h.ImportCSV)
}

// ImportCSV handles POST /imports/csv. The file arrives as multipart form
// field "file". A structurally invalid file is rejected before any write; a
// mid-run failure returns the partial batch with HTTP 207.
func (h *ImportHandler) ImportCSV(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file upload"})
		return
	}
	if fileHeader.Size > maxImportBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	defer f.Close()

	doc := ledger.DocumentRef{ID: c.PostForm("document_id"), Name: fileHeader.Filename}
	res, err := h.importer.Import(c.Request.Context(), userID, f, doc)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	failed := 0
	if res.Failed != nil {
		failed = 1
	}
	RecordImportRows(len(res.Entries), failed)

	status := http.StatusCreated
	body := gin.H{"batch": res.Batch, "imported": len(res.Entries)}
	if res.Failed != nil {
		status = http.StatusMultiStatus
		body["failed_row"] = res.Failed.Line
		body["failure"] = res.Failed.Err.Error()
	}
	c.JSON(status, body)
}
