package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kavish224/financial-tools/internal/client"
	"github.com/kavish224/financial-tools/internal/model"
	"github.com/kavish224/financial-tools/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxUploadBytes bounds an uploaded bhav-copy
const maxUploadBytes = 64 << 20

// BhavcopyHandler handles bulk bhav-copy imports
type BhavcopyHandler struct {
	importer BhavcopyImporter
	logger   *zap.Logger
}

// NewBhavcopyHandler creates a new bhav-copy handler
func NewBhavcopyHandler(importer BhavcopyImporter, logger *zap.Logger) *BhavcopyHandler {
	return &BhavcopyHandler{
		importer: importer,
		logger:   logger,
	}
}

// Upload imports an uploaded CSV or zipped CSV bhav-copy
// POST /api/v1/bhavcopy
func (h *BhavcopyHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, "No file provided")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".csv" && ext != ".zip" {
		utils.SendErrorResponse(c, http.StatusBadRequest, "File must be a .csv or .zip bhav-copy")
		return
	}
	if header.Size > maxUploadBytes {
		utils.SendErrorResponse(c, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	f, err := header.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", zap.Error(err))
		utils.SendErrorResponse(c, http.StatusBadRequest, "Failed to read file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		h.logger.Error("Failed to read upload", zap.Error(err))
		utils.SendErrorResponse(c, http.StatusBadRequest, "Failed to read file")
		return
	}

	summary, err := h.importer.ImportFile(c.Request.Context(), header.Filename, data)
	if err != nil {
		h.logger.Error("Bhav-copy import failed",
			zap.String("file", header.Filename),
			zap.Error(err))
		utils.SendErrorResponse(c, http.StatusUnprocessableEntity, "Failed to process bhav-copy")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "BhavCopy processed successfully.",
		"details": summary,
	})
}

// Download fetches and imports the exchange archive for a day
// POST /api/v1/bhavcopy/download?date=YYYY-MM-DD
func (h *BhavcopyHandler) Download(c *gin.Context) {
	date := h.importer.Today()
	if raw := c.Query("date"); raw != "" {
		parsed, err := model.ParseDay(raw)
		if err != nil {
			utils.SendErrorResponse(c, http.StatusBadRequest, "Invalid date format, use YYYY-MM-DD")
			return
		}
		date = parsed
	}

	summary, err := h.importer.DownloadAndImport(c.Request.Context(), date)
	if errors.Is(err, client.ErrArchiveNotFound) {
		utils.SendErrorResponse(c, http.StatusNotFound, "No bhav-copy published for "+date.Format(model.DateLayout))
		return
	}
	if err != nil {
		h.logger.Error("Bhav-copy download failed", zap.Time("date", date), zap.Error(err))
		utils.SendErrorResponse(c, http.StatusBadGateway, "Failed to download bhav-copy")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "BhavCopy processed successfully.",
		"date":    date.Format(model.DateLayout),
		"details": summary,
	})
}
