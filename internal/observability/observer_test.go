package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/arrowlake/arrowlake/internal/config"
	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/pipeline"
	"github.com/arrowlake/arrowlake/internal/source"
)

func TestNewLoggerAddsServiceAttributes(t *testing.T) {
	cfg, err := config.Load("arrowlake-test", func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	var buf bytes.Buffer
	NewLogger(cfg, &buf).Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("json.Unmarshal() error = %v (line %q)", err, buf.String())
	}
	if entry["service"] != "arrowlake-test" || entry["profile"] != "dev" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestPipelineObserverLogsFailureWithErrorKind(t *testing.T) {
	var buf bytes.Buffer
	observer := NewPipelineObserver(newJSONLogger(&buf))

	failed := testutil.ToFloat64(pipelineRunsTotal.WithLabelValues("failed", "SourceUnavailable"))
	runErr := &pipeline.RunError{
		Stage:  pipeline.StateLoading,
		Source: source.KindWarehouse,
		Err:    lakeerr.Errorf(lakeerr.KindSourceUnavailable, "load warehouse", "boom"),
	}
	observer.Transition(context.Background(), pipeline.Transition{
		RunID:   "run-1",
		From:    pipeline.StateLoading,
		To:      pipeline.StateFailed,
		Elapsed: time.Second,
		Err:     runErr,
	})

	if got := testutil.ToFloat64(pipelineRunsTotal.WithLabelValues("failed", "SourceUnavailable")); got != failed+1 {
		t.Fatalf("pipeline runs = %v, want %v", got, failed+1)
	}
	entry := lastEntry(t, &buf)
	if entry["level"] != "ERROR" || entry["error_kind"] != "SourceUnavailable" || entry["run_id"] != "run-1" || entry["state"] != "Failed" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestPipelineObserverRecordsSourceLoads(t *testing.T) {
	var buf bytes.Buffer
	observer := NewPipelineObserver(newJSONLogger(&buf))

	okBefore := testutil.ToFloat64(sourceLoadsTotal.WithLabelValues("object_store", "ok"))
	rowsBefore := testutil.ToFloat64(sourceRowsLoadedTotal.WithLabelValues("object_store"))
	errBefore := testutil.ToFloat64(sourceLoadsTotal.WithLabelValues("table_format", "error"))

	observer.SourceLoaded(context.Background(), pipeline.SourceEvent{
		RunID:      "run-2",
		Kind:       source.KindObjectStore,
		Identifier: "gs://flights-bucket/flights",
		Table:      "flights_gcs",
		Rows:       42,
		Duration:   150 * time.Millisecond,
	})
	entry := lastEntry(t, &buf)
	if entry["table"] != "flights_gcs" || entry["rows"] != float64(42) {
		t.Fatalf("entry = %v", entry)
	}

	observer.SourceLoaded(context.Background(), pipeline.SourceEvent{
		RunID:      "run-2",
		Kind:       source.KindTableFormat,
		Identifier: "s3://lake/flights",
		Err:        lakeerr.Errorf(lakeerr.KindCancelled, "load table_format", "%v", errors.New("context canceled")),
	})
	entry = lastEntry(t, &buf)
	if entry["level"] != "WARN" || entry["error_kind"] != "Cancelled" {
		t.Fatalf("entry = %v", entry)
	}

	if got := testutil.ToFloat64(sourceLoadsTotal.WithLabelValues("object_store", "ok")); got != okBefore+1 {
		t.Fatalf("ok loads = %v", got)
	}
	if got := testutil.ToFloat64(sourceRowsLoadedTotal.WithLabelValues("object_store")); got != rowsBefore+42 {
		t.Fatalf("rows loaded = %v", got)
	}
	if got := testutil.ToFloat64(sourceLoadsTotal.WithLabelValues("table_format", "error")); got != errBefore+1 {
		t.Fatalf("failed loads = %v", got)
	}
}

func TestPipelineObserverSetsRegistryGauge(t *testing.T) {
	observer := NewPipelineObserver(nil)
	observer.Registered(context.Background(), "run-3", []string{"flights_bq", "flights_gcs", "flights_iceberg"})
	if got := testutil.ToFloat64(registryTables); got != 3 {
		t.Fatalf("registry tables = %v", got)
	}
}

func TestWriteMetricsTextfile(t *testing.T) {
	SetRegistryTables(2)
	path := filepath.Join(t.TempDir(), "arrowlake.prom")
	if err := WriteMetricsTextfile(path); err != nil {
		t.Fatalf("WriteMetricsTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "arrowlake_registry_tables 2") {
		t.Fatalf("textfile missing registry gauge:\n%s", data)
	}
	if err := WriteMetricsTextfile(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	return entry
}
