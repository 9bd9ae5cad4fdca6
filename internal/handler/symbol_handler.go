package handler

import (
	"net/http"

	"github.com/kavish224/financial-tools/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SymbolHandler handles symbol master requests
type SymbolHandler struct {
	symbols Symbols
	logger  *zap.Logger
}

// NewSymbolHandler creates a new symbol handler
func NewSymbolHandler(symbols Symbols, logger *zap.Logger) *SymbolHandler {
	return &SymbolHandler{
		symbols: symbols,
		logger:  logger,
	}
}

// GetSymbols returns a page of the symbol master
// GET /api/v1/symbols?page=1&limit=100
func (h *SymbolHandler) GetSymbols(c *gin.Context) {
	page, err := utils.BindPage(c, utils.SymbolPageLimits)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, utils.BindingErrorMessage(err))
		return
	}

	symbols, total, err := h.symbols.List(c.Request.Context(), page.Offset(), page.Limit)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to retrieve symbols")
		return
	}

	utils.SendPage(c, symbols, page, total)
}

// GetSymbol returns one symbol by ISIN or ticker
// GET /api/v1/symbols/:key
func (h *SymbolHandler) GetSymbol(c *gin.Context) {
	symbol, err := h.symbols.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to retrieve symbol")
		return
	}

	c.JSON(http.StatusOK, symbol)
}

// GetAliases returns the tickers a symbol has traded under
// GET /api/v1/symbols/:key/aliases
func (h *SymbolHandler) GetAliases(c *gin.Context) {
	aliases, err := h.symbols.Aliases(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to retrieve symbol aliases")
		return
	}

	c.JSON(http.StatusOK, gin.H{"aliases": aliases})
}

// ImportSymbols loads a symbol master CSV
// POST /api/v1/symbols/import
func (h *SymbolHandler) ImportSymbols(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, "No file provided")
		return
	}

	f, err := header.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", zap.Error(err))
		utils.SendErrorResponse(c, http.StatusBadRequest, "Failed to read file")
		return
	}
	defer f.Close()

	summary, err := h.symbols.Import(c.Request.Context(), f)
	if err != nil {
		h.logger.Warn("Symbol import rejected", zap.String("file", header.Filename), zap.Error(err))
		utils.SendErrorResponse(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Symbols imported",
		"details": summary,
	})
}
