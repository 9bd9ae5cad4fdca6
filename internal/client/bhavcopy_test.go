package client

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kavish224/financial-tools/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleBhavcopy = "\ufeffTradDt,BizDt,Sgmt,Src,FinInstrmTp,FinInstrmId,ISIN,TckrSymb,SctySrs,OpnPric,HghPric,LwPric,ClsPric,TtlTradgVol\n" +
	"2024-03-15,2024-03-15,CM,NSE,STK,2885,INE002A01018,RELIANCE,EQ,2900.5,2925,2880.1,2910.35,5123456\n" +
	"2024-03-15,2024-03-15,CM,NSE,STK,1594,INE009A01021,INFY,EQ,,1650,1620,1640.2,\n" +
	"2024-03-15,2024-03-15,CM,NSE,STK,9999,INE999X01011,SOMEBE,BE,10,11,9,10.5,100\n"

func zipBytes(t *testing.T, files ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 0; i+1 < len(files); i += 2 {
		w, err := zw.Create(files[i])
		require.NoError(t, err)
		_, err = io.WriteString(w, files[i+1])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestParseBhavcopy(t *testing.T) {
	var rows []BhavcopyRow
	err := ParseBhavcopy(strings.NewReader(sampleBhavcopy), func(row BhavcopyRow) error {
		rows = append(rows, row)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, "2024-03-15", rows[0].TradeDate)
	assert.Equal(t, "INE002A01018", rows[0].ISIN)
	assert.Equal(t, "EQ", rows[0].Series)
	assert.True(t, rows[0].Close.Decimal.Equal(decimal.RequireFromString("2910.35")))
	assert.Equal(t, int64(5123456), rows[0].Volume.Int64)
	assert.True(t, rows[0].HasRequired())

	assert.False(t, rows[1].Open.Valid, "blank open is null")
	assert.False(t, rows[1].Volume.Valid, "blank volume is null")
	assert.True(t, rows[1].High.Valid)

	assert.Equal(t, "BE", rows[2].Series)
}

func TestParseBhavcopyMissingColumns(t *testing.T) {
	csv := "ISIN,SctySrs,ClsPric\nINE002A01018,EQ,abc\n"

	var rows []BhavcopyRow
	require.NoError(t, ParseBhavcopy(strings.NewReader(csv), func(row BhavcopyRow) error {
		rows = append(rows, row)
		return nil
	}))

	require.Len(t, rows, 1)
	assert.False(t, rows[0].HasRequired())
	assert.False(t, rows[0].Close.Valid, "unparsable close is null")
}

func TestParseBhavcopyStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := ParseBhavcopy(strings.NewReader(sampleBhavcopy), func(BhavcopyRow) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestParseBhavcopyEmpty(t *testing.T) {
	called := false
	require.NoError(t, ParseBhavcopy(strings.NewReader(""), func(BhavcopyRow) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}

func TestOpenArchiveReadsFirstFile(t *testing.T) {
	data := zipBytes(t, "first.csv", "a,b\n", "second.csv", "c,d\n")

	rc, name, err := OpenArchive(data)
	require.NoError(t, err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "first.csv", name)
	assert.Equal(t, "a,b\n", string(body))
}

func TestOpenArchiveErrors(t *testing.T) {
	_, _, err := OpenArchive(zipBytes(t))
	assert.Error(t, err, "empty archive")

	_, _, err = OpenArchive([]byte("not a zip"))
	assert.Error(t, err)
}

func TestBhavcopyDownload(t *testing.T) {
	archive := zipBytes(t, "BhavCopy.csv", sampleBhavcopy)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Mozilla/5.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "https://www.nseindia.com/", r.Header.Get("Referer"))
		if r.URL.Path != "/BhavCopy_20240315.csv.zip" {
			http.NotFound(w, r)
			return
		}
		w.Write(archive)
	}))
	defer srv.Close()

	c := NewBhavcopyClient(config.BhavcopyConfig{
		URLTemplate: srv.URL + "/BhavCopy_%s.csv.zip",
		UserAgent:   "Mozilla/5.0",
		Referer:     "https://www.nseindia.com/",
		Timeout:     5 * time.Second,
	}, zap.NewNop())

	got, err := c.Download(context.Background(), time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "BhavCopy_20240315.csv.zip", got.Name)
	assert.Equal(t, archive, got.Data)

	_, err = c.Download(context.Background(), time.Date(2024, time.March, 16, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrArchiveNotFound)
}
