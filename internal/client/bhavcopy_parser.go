package client

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// Bhav-copy column names
const (
	ColTradeDate = "TradDt"
	ColISIN      = "ISIN"
	ColSeries    = "SctySrs"
	ColOpen      = "OpnPric"
	ColHigh      = "HghPric"
	ColLow       = "LwPric"
	ColClose     = "ClsPric"
	ColVolume    = "TtlTradgVol"
)

// BhavcopyRow is one data line of a bhav-copy CSV. Fields that are absent or
// unparsable are null; TradeDate and ISIN are empty when missing.
type BhavcopyRow struct {
	Line      int
	TradeDate string
	ISIN      string
	Series    string
	Open      decimal.NullDecimal
	High      decimal.NullDecimal
	Low       decimal.NullDecimal
	Close     decimal.NullDecimal
	Volume    null.Int
	// Err is set when the line itself could not be read
	Err error
}

// HasRequired reports whether the row carries both a trade date and an ISIN
func (r BhavcopyRow) HasRequired() bool {
	return r.TradeDate != "" && r.ISIN != ""
}

// OpenArchive returns the first file contained in a zip archive
func OpenArchive(data []byte) (io.ReadCloser, string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", fmt.Errorf("failed to open archive: %w", err)
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, "", fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		return rc, f.Name, nil
	}

	return nil, "", errors.New("archive contains no files")
}

// ParseBhavcopy streams the rows of a bhav-copy CSV to fn. Columns are
// located by header name. Parsing stops at the first error returned by fn.
func ParseBhavcopy(r io.Reader, fn func(BhavcopyRow) error) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		index[name] = i
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++

		var row BhavcopyRow
		var parseErr *csv.ParseError
		switch {
		case errors.As(err, &parseErr):
			row = BhavcopyRow{Line: line, Err: err}
		case err != nil:
			return fmt.Errorf("failed to read line %d: %w", line, err)
		default:
			row = buildRow(line, record, index)
		}

		if err := fn(row); err != nil {
			return err
		}
	}
}

func buildRow(line int, record []string, index map[string]int) BhavcopyRow {
	field := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	return BhavcopyRow{
		Line:      line,
		TradeDate: field(ColTradeDate),
		ISIN:      field(ColISIN),
		Series:    field(ColSeries),
		Open:      parseDecimal(field(ColOpen)),
		High:      parseDecimal(field(ColHigh)),
		Low:       parseDecimal(field(ColLow)),
		Close:     parseDecimal(field(ColClose)),
		Volume:    parseInt(field(ColVolume)),
	}
}

func parseDecimal(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func parseInt(s string) null.Int {
	if s == "" {
		return null.Int{}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return null.Int{}
	}
	return null.IntFrom(n)
}
