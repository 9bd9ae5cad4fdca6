package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/kavish224/financial-tools/internal/client"
	"github.com/kavish224/financial-tools/internal/config"
	"github.com/kavish224/financial-tools/internal/metrics"
	"github.com/kavish224/financial-tools/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const bhavcopyCSV = "TradDt,ISIN,SctySrs,OpnPric,HghPric,LwPric,ClsPric,TtlTradgVol\n" +
	"2024-03-15,INE001A01036,EQ,10,11,9,10.5,100\n" +
	"2024-03-15,INE002A01018,EQ,,,,20,\n" +
	"2024-03-15,INE001A01036,EQ,99,99,99,99,1\n" +
	"2024-03-15,INE999X01011,EQ,1,1,1,1,1\n" +
	"2024-03-15,INE003A01024,BE,5,5,5,5,5\n" +
	"15-03-2024,INE003A01024,EQ,5,5,5,5,5\n" +
	",INE003A01024,EQ,5,5,5,5,5\n" +
	"2024-03-14,INE001A01036,EQ,10,10,10,10,10\n"

type fakeDownloader struct {
	archive *client.Archive
	err     error
}

func (d *fakeDownloader) Download(ctx context.Context, date time.Time) (*client.Archive, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.archive, nil
}

type bhavcopyFixture struct {
	svc        *BhavcopyService
	bars       *fakeBars
	downloader *fakeDownloader
	cache      *fakeCache
	publisher  *recordingPublisher
}

func newBhavcopyFixture(t *testing.T) *bhavcopyFixture {
	t.Helper()

	archive, err := storage.NewLocalArchive(config.LocalStorageConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	f := &bhavcopyFixture{
		bars:       newFakeBars(),
		downloader: &fakeDownloader{},
		cache:      newFakeCache(),
		publisher:  &recordingPublisher{},
	}
	symbols := newFakeSymbols(
		sym(isinAlpha, "ALPHA", "Alpha Ltd"),
		sym(isinBeta, "BETA", "Beta Ltd"),
		sym(isinGamma, "GAMMA", "Gamma Ltd"),
	)
	f.bars.series[isinAlpha] = series(isinAlpha, day("2024-03-14"), "10")

	f.svc = NewBhavcopyService(f.bars, symbols, f.downloader, archive, f.cache, f.publisher,
		"jobs", metrics.New(), 2, zap.NewNop()).WithClock(fixedClock(testToday))
	return f
}

func zipped(t *testing.T, name, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = io.WriteString(w, body)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestBhavcopyImportRules(t *testing.T) {
	f := newBhavcopyFixture(t)

	summary, err := f.svc.Import(context.Background(), strings.NewReader(bhavcopyCSV))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Inserted)
	assert.Equal(t, 4, summary.Skipped)
	assert.Equal(t, 2, summary.Errors)
	assert.Equal(t, 8, summary.TotalProcessed)

	alpha, err := f.bars.SeriesFrom(context.Background(), isinAlpha, nil)
	require.NoError(t, err)
	require.Len(t, alpha, 2)
	assert.True(t, alpha[1].Close.Decimal.Equal(decimal.RequireFromString("10.5")), "first row wins")

	beta, err := f.bars.SeriesFrom(context.Background(), isinBeta, nil)
	require.NoError(t, err)
	require.Len(t, beta, 1)
	assert.False(t, beta[0].Open.Valid)
	assert.False(t, beta[0].Volume.Valid)

	assert.Equal(t, 1, f.cache.invalidated)
	assert.Equal(t, 1, f.publisher.count())
}

func TestBhavcopyImportIsIdempotent(t *testing.T) {
	f := newBhavcopyFixture(t)
	ctx := context.Background()

	_, err := f.svc.Import(ctx, strings.NewReader(bhavcopyCSV))
	require.NoError(t, err)

	summary, err := f.svc.Import(ctx, strings.NewReader(bhavcopyCSV))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 6, summary.Skipped)
	assert.Equal(t, 1, f.cache.invalidated)
}

func TestBhavcopyFailedBatchCountsErrors(t *testing.T) {
	f := newBhavcopyFixture(t)
	f.bars.err[isinBeta] = errors.New("deadlock detected")

	summary, err := f.svc.Import(context.Background(), strings.NewReader(bhavcopyCSV))
	require.NoError(t, err)

	// the first batch held ALPHA and BETA
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 4, summary.Errors)
	assert.Equal(t, 8, summary.TotalProcessed)
}

func TestBhavcopyImportFile(t *testing.T) {
	f := newBhavcopyFixture(t)

	summary, err := f.svc.ImportFile(context.Background(), "upload.zip", zipped(t, "bhav.csv", bhavcopyCSV))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Inserted)
	assert.Contains(t, summary.ArchiveKey, "upload.zip")

	_, err = os.Stat(summary.ArchiveKey)
	assert.NoError(t, err)

	summary, err = f.svc.ImportFile(context.Background(), "upload.csv", []byte(bhavcopyCSV))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Inserted)
}

func TestBhavcopyDownloadAndImport(t *testing.T) {
	f := newBhavcopyFixture(t)
	f.downloader.archive = &client.Archive{
		Date: day(testToday),
		Name: "BhavCopy_NSE_CM_0_0_0_20240315_F_0000.csv.zip",
		URL:  "https://example.test/bhav.zip",
		Data: zipped(t, "BhavCopy_NSE_CM_0_0_0_20240315_F_0000.csv", bhavcopyCSV),
	}

	summary, err := f.svc.DownloadAndImport(context.Background(), day(testToday))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Inserted)
	assert.Contains(t, summary.ArchiveKey, "2024")

	f.downloader.err = client.ErrArchiveNotFound
	_, err = f.svc.DownloadAndImport(context.Background(), day(testToday))
	assert.ErrorIs(t, err, client.ErrArchiveNotFound)
}

func TestBhavcopyRejectsEmptyArchive(t *testing.T) {
	f := newBhavcopyFixture(t)

	var buf bytes.Buffer
	require.NoError(t, zip.NewWriter(&buf).Close())

	_, err := f.svc.ImportFile(context.Background(), "empty.zip", buf.Bytes())
	assert.Error(t, err)
}
