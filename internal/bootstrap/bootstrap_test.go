package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/scanpipe/internal/config"
	"github.com/kirillkom/scanpipe/internal/core/domain"
	"github.com/kirillkom/scanpipe/internal/infrastructure/storage/localfs"
)

func inlineConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		LogLevel:            "error",
		PipelineMode:        config.ModeInline,
		ProgressSettleDelay: 10 * time.Millisecond,
		StagingPath:         t.TempDir(),
		MaxUploadBytes:      1 << 20,
		OCRTimeout:          time.Second,
	}
}

func TestNewWiresInlineAPI(t *testing.T) {
	app, err := New(context.Background(), inlineConfig(t), RoleAPI)
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Pipeline)
	assert.NotNil(t, app.Ingest)
	assert.NotNil(t, app.Documents)
	assert.NotNil(t, app.Recommend)
	assert.NotNil(t, app.MCP)
	assert.Nil(t, app.Bus)
	assert.Nil(t, app.Mirror)

	result, err := app.Recommend.Recommend(context.Background(), domain.Claim{ID: "FRA-1", Holder: "Ravi", Village: "Dhanpur", Type: "IFR"}, "")
	require.NoError(t, err)
	assert.True(t, result.Fallback)
}

func TestWorkerRequiresQueueMode(t *testing.T) {
	_, err := New(context.Background(), inlineConfig(t), RoleWorker)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PIPELINE_MODE=queue")
}

func TestResilienceConfigKeepsDefaultsForZeroValues(t *testing.T) {
	cfg := resilienceConfig(config.Config{RetryMaxAttempts: 5})
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, uint32(10), cfg.Breaker.MinRequests)
	assert.Equal(t, 0.5, cfg.Breaker.FailureRatio)
	assert.True(t, cfg.Breaker.Enabled)
}

// queueConfig points at a NATS address nothing listens on. The client keeps
// retrying in the background, so construction still succeeds.
func queueConfig(t *testing.T, ocrURL string) config.Config {
	t.Helper()
	cfg := inlineConfig(t)
	cfg.PipelineMode = config.ModeQueue
	cfg.NATSURL = "nats://127.0.0.1:1"
	cfg.OCRURL = ocrURL
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func TestWorkerKeepsNoDocumentsAfterBatch(t *testing.T) {
	var ocrCalls atomic.Int32
	ocr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ocrCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"IsErroredOnProcessing":false,"ParsedResults":[{"ParsedText":"Name: Ravi Kumar"}]}`))
	}))
	defer ocr.Close()

	cfg := queueConfig(t, ocr.URL)
	app, err := New(context.Background(), cfg, RoleWorker)
	require.NoError(t, err)
	defer app.Close()
	require.NotNil(t, app.Pipeline)
	require.NotNil(t, app.Bus)

	staging, err := localfs.New(cfg.StagingPath)
	require.NoError(t, err)
	ctx := context.Background()

	for round := range 3 {
		batch := domain.Batch{ID: fmt.Sprintf("batch-%d", round)}
		for i := range 2 {
			doc := domain.Document{
				ID:          fmt.Sprintf("%s-doc-%d", batch.ID, i),
				BatchID:     batch.ID,
				Position:    i,
				Filename:    "scan.png",
				ContentType: "image/png",
				StagingKey:  fmt.Sprintf("%s-%d_scan.png", batch.ID, i),
			}
			doc.Queued(time.Now())
			require.NoError(t, staging.Save(ctx, doc.StagingKey, bytes.NewReader([]byte("png"))))
			batch.Documents = append(batch.Documents, doc)
		}
		require.NoError(t, app.Pipeline.Process(ctx, batch))

		docs, err := app.Store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, docs)
		_, err = app.Store.GetByID(ctx, batch.Documents[0].ID)
		assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
		_, err = os.Stat(filepath.Join(cfg.StagingPath, batch.Documents[0].StagingKey))
		assert.True(t, os.IsNotExist(err))
	}
	assert.Equal(t, int32(6), ocrCalls.Load())
}

func TestQueueAPIWiresLeaseAndMirror(t *testing.T) {
	app, err := New(context.Background(), queueConfig(t, "http://127.0.0.1:1"), RoleAPI)
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.Pipeline)
	require.NotNil(t, app.Mirror)
	require.NotNil(t, app.Ingest)
	assert.False(t, app.Ingest.Renew("unknown-batch"))
}

func TestWorkerLeaseCoversOneOCRCall(t *testing.T) {
	assert.Equal(t, 3*time.Minute, workerLease(config.Config{WorkerLease: 3 * time.Minute, OCRTimeout: 2 * time.Minute}))
	assert.Equal(t, 5*time.Minute+30*time.Second, workerLease(config.Config{WorkerLease: time.Minute, OCRTimeout: 5 * time.Minute}))
}
