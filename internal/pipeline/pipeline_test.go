package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/arrowlake/arrowlake/internal/config"
	"github.com/arrowlake/arrowlake/internal/dataset"
	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/query"
	"github.com/arrowlake/arrowlake/internal/query/duckdb"
	"github.com/arrowlake/arrowlake/internal/source"
)

var flightsConfig = config.SourceConfig{
	ObjectStoreLocation: "gs://flights-bucket/flights",
	WarehouseDataset:    "analytics.flights",
	TableFormatPath:     "s3://lake/warehouse/flights",
}

type fixture struct {
	objectStore *source.Fake
	warehouse   *source.Fake
	tableFormat *source.Fake
	datasets    []*dataset.Dataset
}

func newFixture(t *testing.T, mem memory.Allocator) *fixture {
	t.Helper()
	f := &fixture{}
	gcs := flightsDataset(t, mem, "flights_gcs", 3)
	bq := flightsDataset(t, mem, "flights_bq", 2)
	iceberg := flightsDataset(t, mem, "flights_iceberg", 4)
	f.datasets = []*dataset.Dataset{gcs, bq, iceberg}
	f.objectStore = &source.Fake{SourceKind: source.KindObjectStore, Dataset: gcs}
	f.warehouse = &source.Fake{SourceKind: source.KindWarehouse, Dataset: bq}
	f.tableFormat = &source.Fake{SourceKind: source.KindTableFormat, Dataset: iceberg}
	return f
}

func (f *fixture) loaders() []source.Loader {
	return []source.Loader{f.objectStore, f.warehouse, f.tableFormat}
}

func (f *fixture) release() {
	for _, ds := range f.datasets {
		ds.Release()
	}
}

type stubEngine struct {
	mu    sync.Mutex
	calls int
}

func (s *stubEngine) Execute(context.Context, query.Request) (*query.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return query.NewResult(arrow.NewSchema(nil, nil), nil), nil
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []Transition
	sources     []SourceEvent
	registered  []string
}

func (o *recordingObserver) Transition(_ context.Context, t Transition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, t)
}

func (o *recordingObserver) SourceLoaded(_ context.Context, event SourceEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources = append(o.sources, event)
}

func (o *recordingObserver) Registered(_ context.Context, _ string, tables []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registered = tables
}

func TestRunCountsFlightsEndToEnd(t *testing.T) {
	f := newFixture(t, memory.NewGoAllocator())
	defer f.release()

	observer := &recordingObserver{}
	service := &Service{
		Config:   StaticConfig(flightsConfig),
		Loaders:  f.loaders(),
		Executor: query.NewExecutor(duckdb.NewEngine(), 0),
		Observer: observer,
		NewID:    func() string { return "run-1" },
	}

	run, err := service.Run(context.Background(), "SELECT COUNT(*) FROM flights_gcs")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	defer run.Close()

	if run.State != StateDone {
		t.Fatalf("State = %s", run.State)
	}
	if run.Result.NumBatches() != 1 {
		t.Fatalf("NumBatches() = %d, want 1", run.Result.NumBatches())
	}
	batch, ok := run.Result.Next()
	if !ok {
		t.Fatal("Next() returned no batch")
	}
	if batch.NumRows() != 1 || batch.NumCols() != 1 {
		t.Fatalf("batch shape = %dx%d, want 1x1", batch.NumRows(), batch.NumCols())
	}
	if got := batch.Column(0).(*array.Int64).Value(0); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}

	wantStates := []State{StateConfiguring, StateLoading, StateRegistering, StateQuerying, StateDone}
	if got := states(run.Transitions); !reflect.DeepEqual(got, wantStates) {
		t.Fatalf("transitions = %v, want %v", got, wantStates)
	}
	if got := states(observer.transitions); !reflect.DeepEqual(got, wantStates) {
		t.Fatalf("observed transitions = %v, want %v", got, wantStates)
	}
	if len(observer.sources) != 3 {
		t.Fatalf("observed %d source events", len(observer.sources))
	}
	wantTables := []string{"flights_bq", "flights_gcs", "flights_iceberg"}
	if !reflect.DeepEqual(observer.registered, wantTables) {
		t.Fatalf("registered = %v, want %v", observer.registered, wantTables)
	}
	if got := f.warehouse.Identifiers(); len(got) != 1 || got[0] != "analytics.flights" {
		t.Fatalf("warehouse identifiers = %v", got)
	}
}

func TestRunLoaderFailureLeavesRegistryEmpty(t *testing.T) {
	for _, sequential := range []bool{false, true} {
		name := "concurrent"
		if sequential {
			name = "sequential"
		}
		t.Run(name, func(t *testing.T) {
			mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
			defer mem.AssertSize(t, 0)

			f := newFixture(t, mem)
			defer f.release()
			f.warehouse.Dataset = nil
			f.warehouse.Err = lakeerr.Errorf(lakeerr.KindSourceUnavailable, "load warehouse", "dataset not reachable")

			engine := &stubEngine{}
			service := &Service{
				Config:   StaticConfig(flightsConfig),
				Loaders:  f.loaders(),
				Executor: query.NewExecutor(engine, 0),
				Options:  Options{Sequential: sequential},
			}

			run, err := service.Run(context.Background(), "SELECT COUNT(*) FROM flights_gcs")
			defer run.Close()

			var runErr *RunError
			if !errors.As(err, &runErr) {
				t.Fatalf("Run() error = %v, want *RunError", err)
			}
			if runErr.Kind() != lakeerr.KindSourceUnavailable {
				t.Fatalf("Kind() = %q, want SourceUnavailable", runErr.Kind())
			}
			if runErr.Stage != StateLoading || runErr.Source != source.KindWarehouse {
				t.Fatalf("RunError = %+v", runErr)
			}
			if run.State != StateFailed || run.FailedStage != StateLoading {
				t.Fatalf("State = %s FailedStage = %s", run.State, run.FailedStage)
			}
			if names := run.Registry.Names(); len(names) != 0 {
				t.Fatalf("Names() = %v, want empty", names)
			}
			if engine.calls != 0 {
				t.Fatalf("engine calls = %d, want 0", engine.calls)
			}
			for _, st := range states(run.Transitions) {
				if st == StateQuerying || st == StateRegistering {
					t.Fatalf("run passed through %s", st)
				}
			}
		})
	}
}

func TestRunSequentialStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t, memory.NewGoAllocator())
	defer f.release()
	f.objectStore.Dataset = nil
	f.objectStore.Err = lakeerr.Errorf(lakeerr.KindSchema, "load object_store", "mixed schemas")

	service := &Service{
		Config:   StaticConfig(flightsConfig),
		Loaders:  f.loaders(),
		Executor: query.NewExecutor(&stubEngine{}, 0),
		Options:  Options{Sequential: true},
	}
	run, err := service.Run(context.Background(), "SELECT 1")
	defer run.Close()

	if !lakeerr.Is(err, lakeerr.KindSchema) {
		t.Fatalf("Run() error = %v, want SchemaError", err)
	}
	if f.warehouse.Calls() != 0 || f.tableFormat.Calls() != 0 {
		t.Fatalf("later loaders ran: warehouse=%d table_format=%d", f.warehouse.Calls(), f.tableFormat.Calls())
	}
}

func TestRunDuplicateTableNamesFailRegistration(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	f := newFixture(t, mem)
	defer f.release()
	clash := flightsDataset(t, mem, "flights_gcs", 1)
	f.datasets = append(f.datasets, clash)
	f.warehouse.Dataset = clash

	service := &Service{
		Config:   StaticConfig(flightsConfig),
		Loaders:  f.loaders(),
		Executor: query.NewExecutor(&stubEngine{}, 0),
	}
	run, err := service.Run(context.Background(), "SELECT * FROM flights_gcs")
	defer run.Close()

	if !lakeerr.Is(err, lakeerr.KindDuplicateName) {
		t.Fatalf("Run() error = %v, want DuplicateName", err)
	}
	if run.FailedStage != StateRegistering {
		t.Fatalf("FailedStage = %s", run.FailedStage)
	}
	if names := run.Registry.Names(); len(names) != 0 {
		t.Fatalf("Names() = %v, want empty", names)
	}
}

func TestRunUsesTableNameOverrides(t *testing.T) {
	f := newFixture(t, memory.NewGoAllocator())
	defer f.release()

	cfg := flightsConfig
	cfg.Tables.Warehouse = "bq_flights"
	service := &Service{
		Config:   StaticConfig(cfg),
		Loaders:  f.loaders(),
		Executor: query.NewExecutor(&stubEngine{}, 0),
	}
	run, err := service.Run(context.Background(), "SELECT * FROM bq_flights")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	defer run.Close()

	want := []string{"bq_flights", "flights_gcs", "flights_iceberg"}
	if got := run.Registry.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
}

func TestRunUnknownTableFailsAtQuerying(t *testing.T) {
	f := newFixture(t, memory.NewGoAllocator())
	defer f.release()

	engine := &stubEngine{}
	service := &Service{
		Config:   StaticConfig(flightsConfig),
		Loaders:  f.loaders(),
		Executor: query.NewExecutor(engine, 0),
	}
	run, err := service.Run(context.Background(), "SELECT * FROM flights_snowflake")
	defer run.Close()

	if !lakeerr.Is(err, lakeerr.KindUnknownTable) {
		t.Fatalf("Run() error = %v, want UnknownTable", err)
	}
	if run.FailedStage != StateQuerying {
		t.Fatalf("FailedStage = %s", run.FailedStage)
	}
	if got := run.Registry.Len(); got != 3 {
		t.Fatalf("Registry.Len() = %d after a query failure, want 3", got)
	}
	if engine.calls != 0 {
		t.Fatalf("engine calls = %d, want 0", engine.calls)
	}
}

func TestRunConfigFailuresNeverLoad(t *testing.T) {
	tests := []struct {
		name    string
		loader  ConfigLoader
		loaders func(f *fixture) []source.Loader
	}{
		{
			name: "loader error",
			loader: ConfigLoaderFunc(func(context.Context) (config.SourceConfig, error) {
				return config.SourceConfig{}, errors.New("open config.toml: no such file")
			}),
		},
		{
			name:   "invalid config",
			loader: StaticConfig(config.SourceConfig{ObjectStoreLocation: "gs://flights-bucket/flights"}),
		},
		{
			name:   "missing loader",
			loader: StaticConfig(flightsConfig),
			loaders: func(f *fixture) []source.Loader {
				return []source.Loader{f.objectStore, f.warehouse}
			},
		},
		{
			name:   "two loaders of one kind",
			loader: StaticConfig(flightsConfig),
			loaders: func(f *fixture) []source.Loader {
				return append(f.loaders(), &source.Fake{SourceKind: source.KindWarehouse})
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, memory.NewGoAllocator())
			defer f.release()
			loaders := f.loaders()
			if tc.loaders != nil {
				loaders = tc.loaders(f)
			}

			service := &Service{Config: tc.loader, Loaders: loaders, Executor: query.NewExecutor(&stubEngine{}, 0)}
			run, err := service.Run(context.Background(), "SELECT 1")
			defer run.Close()

			if !lakeerr.Is(err, lakeerr.KindConfig) {
				t.Fatalf("Run() error = %v, want ConfigError", err)
			}
			if run.FailedStage != StateConfiguring {
				t.Fatalf("FailedStage = %s", run.FailedStage)
			}
			if f.objectStore.Calls()+f.warehouse.Calls()+f.tableFormat.Calls() != 0 {
				t.Fatal("a loader ran after a configuration failure")
			}
		})
	}
}

func TestRunLoadTimeoutCancelsLoaders(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	f := newFixture(t, mem)
	defer f.release()
	f.tableFormat.Delay = time.Minute

	service := &Service{
		Config:   StaticConfig(flightsConfig),
		Loaders:  f.loaders(),
		Executor: query.NewExecutor(&stubEngine{}, 0),
		Options:  Options{LoadTimeout: 20 * time.Millisecond},
	}
	start := time.Now()
	run, err := service.Run(context.Background(), "SELECT 1")
	defer run.Close()

	if !lakeerr.Is(err, lakeerr.KindCancelled) {
		t.Fatalf("Run() error = %v, want Cancelled", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("Run() waited for the slow loader")
	}
	if names := run.Registry.Names(); len(names) != 0 {
		t.Fatalf("Names() = %v, want empty", names)
	}
}

func TestRunParentCancellation(t *testing.T) {
	f := newFixture(t, memory.NewGoAllocator())
	defer f.release()
	f.objectStore.Delay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	service := &Service{
		Config:   StaticConfig(flightsConfig),
		Loaders:  f.loaders(),
		Executor: query.NewExecutor(&stubEngine{}, 0),
	}
	run, err := service.Run(ctx, "SELECT 1")
	defer run.Close()

	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Kind() != lakeerr.KindCancelled {
		t.Fatalf("Run() error = %v, want Cancelled", err)
	}
	if run.State != StateFailed {
		t.Fatalf("State = %s", run.State)
	}
}

func TestRunErrorFormatting(t *testing.T) {
	err := &RunError{Stage: StateLoading, Source: source.KindWarehouse, Err: lakeerr.Errorf(lakeerr.KindSourceUnavailable, "load warehouse", "boom")}
	if got, want := err.Error(), "Loading (warehouse): load warehouse: SourceUnavailable: boom"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	plain := &RunError{Stage: StateQuerying, Err: errors.New("boom")}
	if plain.Kind() != lakeerr.KindExecution {
		t.Fatalf("Kind() = %q", plain.Kind())
	}
}

func states(transitions []Transition) []State {
	out := make([]State, 0, len(transitions))
	for _, t := range transitions {
		out = append(out, t.To)
	}
	return out
}

func flightsDataset(t *testing.T, mem memory.Allocator, name string, rows int) *dataset.Dataset {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "flight_id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "origin", Type: arrow.BinaryTypes.String},
	}, nil)
	builder := array.NewRecordBuilder(mem, schema)
	defer builder.Release()
	origins := []string{"SFO", "JFK", "LAX", "ORD"}
	for i := 0; i < rows; i++ {
		builder.Field(0).(*array.Int64Builder).Append(int64(i + 1))
		builder.Field(1).(*array.StringBuilder).Append(origins[i%len(origins)])
	}
	record := builder.NewRecord()
	defer record.Release()

	ds, err := dataset.New(name, schema, []arrow.Record{record})
	if err != nil {
		t.Fatalf("dataset.New() error = %v", err)
	}
	return ds
}
