package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PageLimits bounds the page size of a listing
type PageLimits struct {
	Default int
	Max     int
}

// SymbolPageLimits applies to the symbol master listing
var SymbolPageLimits = PageLimits{Default: 100, Max: 1000}

// Page is one requested page of a listing
type Page struct {
	Page  int `form:"page,default=1" binding:"min=1"`
	Limit int `form:"limit" binding:"min=0"`
}

// BindPage reads page and limit from the query string. A missing or zero
// limit takes the default and a larger one is capped at the maximum.
func BindPage(c *gin.Context, limits PageLimits) (Page, error) {
	var p Page
	if err := c.ShouldBindQuery(&p); err != nil {
		return Page{}, err
	}
	if p.Limit == 0 {
		p.Limit = limits.Default
	}
	p.Limit = min(p.Limit, limits.Max)
	return p, nil
}

// Offset returns the row offset of the page
func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

// PageMeta places a page within the full listing
type PageMeta struct {
	Total      int  `json:"total"`
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

// Meta describes the page given the total number of items
func (p Page) Meta(total int) PageMeta {
	pages := max((total+p.Limit-1)/p.Limit, 1)
	return PageMeta{
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: pages,
		HasNext:    p.Page < pages,
	}
}

// SendPage writes one page of items with its metadata
func SendPage(c *gin.Context, items interface{}, p Page, total int) {
	c.JSON(http.StatusOK, gin.H{
		"data":       items,
		"pagination": p.Meta(total),
	})
}
