package model

import (
	"time"

	"github.com/guregu/null/v6"
)

// Symbol represents an equity in the symbol master. ISIN is the stable key,
// Symbol is the current exchange ticker.
type Symbol struct {
	ISIN        string      `json:"isin" db:"isin"`
	Symbol      string      `json:"symbol" db:"symbol"`
	CompanyName null.String `json:"company_name" db:"company_name"`
	Industry    null.String `json:"industry" db:"industry"`
	Series      null.String `json:"series" db:"series"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// SymbolAlias records a ticker an ISIN has traded under
type SymbolAlias struct {
	ISIN      string    `json:"isin" db:"isin"`
	Symbol    string    `json:"symbol" db:"symbol"`
	ValidFrom time.Time `json:"valid_from" db:"valid_from"`
}

// SymbolUpsertResult describes what a symbol master upsert changed
type SymbolUpsertResult struct {
	Created bool
	Renamed bool
	// PreviousSymbol is set when Renamed is true
	PreviousSymbol string
}

// SymbolImportSummary reports the outcome of a symbol master import
type SymbolImportSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Renamed int `json:"renamed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}
