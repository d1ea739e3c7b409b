package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("arrowlake", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.Sources.File != "config.toml" {
		t.Fatalf("Sources.File = %q", cfg.Sources.File)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.ObjectStore.Backend != BackendGCS {
		t.Fatalf("ObjectStore.Backend = %q, want gcs", cfg.ObjectStore.Backend)
	}
	if cfg.ObjectStore.Endpoint != "localhost:9000" {
		t.Fatalf("ObjectStore.Endpoint = %q", cfg.ObjectStore.Endpoint)
	}
	if cfg.Warehouse.Driver != DriverBigQuery {
		t.Fatalf("Warehouse.Driver = %q", cfg.Warehouse.Driver)
	}
	if !cfg.TableFormat.AllowMovedPaths {
		t.Fatal("TableFormat.AllowMovedPaths should default to true")
	}
	if cfg.Pipeline.Sequential {
		t.Fatal("Pipeline.Sequential should default to false")
	}
	if cfg.Pipeline.LoadTimeout != 5*time.Minute {
		t.Fatalf("Pipeline.LoadTimeout = %s", cfg.Pipeline.LoadTimeout)
	}
	if cfg.Pipeline.QueryTimeout != 2*time.Minute {
		t.Fatalf("Pipeline.QueryTimeout = %s", cfg.Pipeline.QueryTimeout)
	}
	if cfg.Query.RowLimit != 0 {
		t.Fatalf("Query.RowLimit = %d", cfg.Query.RowLimit)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"ARROWLAKE_PROFILE": "prod"})
	cfg, err := Load("arrowlake", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.ObjectStore.Backend != BackendGCS {
		t.Fatalf("ObjectStore.Backend = %q, want gcs in prod", cfg.ObjectStore.Backend)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"ARROWLAKE_PROFILE":                          "test",
		"ARROWLAKE_SERVICE_NAME":                     "arrowlake-batch",
		"ARROWLAKE_SOURCES_FILE":                     "/etc/arrowlake/sources.yaml",
		"ARROWLAKE_OBJECTSTORE_BACKEND":              "S3",
		"ARROWLAKE_OBJECTSTORE_ENDPOINT":             "s3.example.com",
		"ARROWLAKE_OBJECTSTORE_REGION":               "us-west-2",
		"ARROWLAKE_OBJECTSTORE_ACCESS_KEY":           "abc",
		"ARROWLAKE_OBJECTSTORE_SECRET_KEY":           "def",
		"ARROWLAKE_OBJECTSTORE_USE_SSL":              "true",
		"ARROWLAKE_GCS_ENDPOINT":                     "http://localhost:4443/storage/v1/",
		"ARROWLAKE_GCS_CREDENTIALS_FILE":             "/secrets/gcs.json",
		"ARROWLAKE_GCS_ANONYMOUS":                    "true",
		"ARROWLAKE_WAREHOUSE_DRIVER":                 "postgres",
		"ARROWLAKE_WAREHOUSE_PROJECT":                "flights-project",
		"ARROWLAKE_WAREHOUSE_CREDENTIALS_FILE":       "/secrets/bq.json",
		"ARROWLAKE_WAREHOUSE_DSN":                    "postgres://example",
		"ARROWLAKE_WAREHOUSE_MAX_OPEN_CONNS":         "8",
		"ARROWLAKE_WAREHOUSE_MAX_IDLE_CONNS":         "2",
		"ARROWLAKE_WAREHOUSE_CONN_MAX_LIFETIME":      "10m",
		"ARROWLAKE_TABLEFORMAT_ALLOW_MOVED_PATHS":    "false",
		"ARROWLAKE_TABLEFORMAT_METADATA_COMPRESSION": "gzip",
		"ARROWLAKE_PIPELINE_SEQUENTIAL":              "true",
		"ARROWLAKE_PIPELINE_LOAD_TIMEOUT":            "90s",
		"ARROWLAKE_PIPELINE_QUERY_TIMEOUT":           "45s",
		"ARROWLAKE_QUERY_ROW_LIMIT":                  "1000",
		"ARROWLAKE_LOG_LEVEL":                        "error",
		"ARROWLAKE_LOG_JSON":                         "false",
		"ARROWLAKE_METRICS_TEXTFILE":                 "/var/lib/node_exporter/arrowlake.prom",
	})
	cfg, err := Load("arrowlake", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "arrowlake-batch" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.Sources.File != "/etc/arrowlake/sources.yaml" {
		t.Fatalf("Sources.File = %q", cfg.Sources.File)
	}
	if cfg.ObjectStore.Backend != BackendS3 {
		t.Fatalf("ObjectStore.Backend = %q", cfg.ObjectStore.Backend)
	}
	if cfg.ObjectStore.Endpoint != "s3.example.com" || cfg.ObjectStore.Region != "us-west-2" {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.ObjectStore.AccessKeyID != "abc" || cfg.ObjectStore.SecretAccessKey != "def" || !cfg.ObjectStore.UseSSL {
		t.Fatalf("ObjectStore credentials = %+v", cfg.ObjectStore)
	}
	if cfg.GCS.Endpoint != "http://localhost:4443/storage/v1/" || cfg.GCS.CredentialsFile != "/secrets/gcs.json" || !cfg.GCS.Anonymous {
		t.Fatalf("GCS = %+v", cfg.GCS)
	}
	if cfg.Warehouse.Driver != DriverPostgres {
		t.Fatalf("Warehouse.Driver = %q", cfg.Warehouse.Driver)
	}
	if cfg.Warehouse.Project != "flights-project" || cfg.Warehouse.CredentialsFile != "/secrets/bq.json" {
		t.Fatalf("Warehouse = %+v", cfg.Warehouse)
	}
	if cfg.Warehouse.DSN != "postgres://example" {
		t.Fatalf("Warehouse.DSN = %q", cfg.Warehouse.DSN)
	}
	if cfg.Warehouse.MaxOpenConns != 8 || cfg.Warehouse.MaxIdleConns != 2 {
		t.Fatalf("Warehouse pool = %d/%d", cfg.Warehouse.MaxOpenConns, cfg.Warehouse.MaxIdleConns)
	}
	if cfg.Warehouse.ConnMaxLifetime != 10*time.Minute {
		t.Fatalf("Warehouse.ConnMaxLifetime = %s", cfg.Warehouse.ConnMaxLifetime)
	}
	if cfg.TableFormat.AllowMovedPaths {
		t.Fatal("TableFormat.AllowMovedPaths = true, want false")
	}
	if cfg.TableFormat.MetadataCompression != "gzip" {
		t.Fatalf("TableFormat.MetadataCompression = %q", cfg.TableFormat.MetadataCompression)
	}
	if !cfg.Pipeline.Sequential {
		t.Fatal("Pipeline.Sequential = false, want true")
	}
	if cfg.Pipeline.LoadTimeout != 90*time.Second {
		t.Fatalf("Pipeline.LoadTimeout = %s", cfg.Pipeline.LoadTimeout)
	}
	if cfg.Pipeline.QueryTimeout != 45*time.Second {
		t.Fatalf("Pipeline.QueryTimeout = %s", cfg.Pipeline.QueryTimeout)
	}
	if cfg.Query.RowLimit != 1000 {
		t.Fatalf("Query.RowLimit = %d", cfg.Query.RowLimit)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Observability.LogJSON {
		t.Fatal("LogJSON = true, want false")
	}
	if cfg.Observability.MetricsTextfile != "/var/lib/node_exporter/arrowlake.prom" {
		t.Fatalf("MetricsTextfile = %q", cfg.Observability.MetricsTextfile)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"ARROWLAKE_PROFILE": "oops"},
		{"ARROWLAKE_OBJECTSTORE_BACKEND": "azure"},
		{"ARROWLAKE_WAREHOUSE_DRIVER": "mysql"},
		{"ARROWLAKE_WAREHOUSE_MAX_OPEN_CONNS": "oops"},
		{"ARROWLAKE_PIPELINE_LOAD_TIMEOUT": "NaN"},
		{"ARROWLAKE_PIPELINE_SEQUENTIAL": "not-bool"},
		{"ARROWLAKE_QUERY_ROW_LIMIT": "-1"},
		{"ARROWLAKE_LOG_LEVEL": "verbose"},
		{"ARROWLAKE_SERVICE_NAME": " "},
	}
	for _, env := range tests {
		_, err := Load("arrowlake", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
