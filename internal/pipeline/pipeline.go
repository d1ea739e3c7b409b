// Package pipeline sequences one run: configuration, source loads,
// registration and a single query.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/arrowlake/arrowlake/internal/catalog"
	"github.com/arrowlake/arrowlake/internal/config"
	"github.com/arrowlake/arrowlake/internal/dataset"
	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/query"
	"github.com/arrowlake/arrowlake/internal/source"
)

type ConfigLoader interface {
	LoadSourceConfig(ctx context.Context) (config.SourceConfig, error)
}

type ConfigLoaderFunc func(ctx context.Context) (config.SourceConfig, error)

func (f ConfigLoaderFunc) LoadSourceConfig(ctx context.Context) (config.SourceConfig, error) {
	return f(ctx)
}

func StaticConfig(cfg config.SourceConfig) ConfigLoader {
	return ConfigLoaderFunc(func(context.Context) (config.SourceConfig, error) { return cfg, nil })
}

type QueryRunner interface {
	Execute(ctx context.Context, sqlText string, catalog query.Catalog) (*query.Result, error)
}

type Options struct {
	Sequential   bool
	LoadTimeout  time.Duration
	QueryTimeout time.Duration
}

type Service struct {
	Config   ConfigLoader
	Loaders  []source.Loader
	Executor QueryRunner
	Observer Observer
	Options  Options
	Clock    func() time.Time
	NewID    func() string
}

type target struct {
	kind       source.Kind
	identifier string
	table      string
	loader     source.Loader
}

// Run executes one pipeline run. The returned Run is never nil and failures
// are *RunError values. A run failing while configuring, loading or
// registering leaves Run.Registry without tables; a query failure keeps them.
func (s *Service) Run(ctx context.Context, sqlText string) (*Run, error) {
	s.ensureDefaults()

	run := &Run{
		ID:        s.NewID(),
		SQL:       sqlText,
		Registry:  catalog.NewRegistry(),
		StartedAt: s.Clock(),
	}
	entered := run.StartedAt
	advance := func(to State, err error) {
		now := s.Clock()
		t := Transition{RunID: run.ID, From: run.State, To: to, At: now, Elapsed: now.Sub(entered), Err: err}
		run.Transitions = append(run.Transitions, t)
		run.State = to
		entered = now
		s.Observer.Transition(ctx, t)
	}
	fail := func(stage State, kind source.Kind, err error) (*Run, error) {
		runErr := &RunError{Stage: stage, Source: kind, Err: err}
		run.FailedStage = stage
		run.Err = runErr
		advance(StateFailed, runErr)
		run.FinishedAt = s.Clock()
		return run, runErr
	}
	advance(StateConfiguring, nil)

	targets, err := s.configure(ctx)
	if err != nil {
		return fail(StateConfiguring, "", err)
	}

	advance(StateLoading, nil)
	datasets, failedKind, err := s.load(ctx, run, targets)
	if err != nil {
		return fail(StateLoading, failedKind, err)
	}

	advance(StateRegistering, nil)
	pending := make([]catalog.Pending, len(targets))
	for i, t := range targets {
		name := t.table
		if name == "" {
			name = datasets[i].Name()
		}
		pending[i] = catalog.Pending{Name: name, Dataset: datasets[i]}
	}
	if err := run.Registry.RegisterAll(pending); err != nil {
		releaseAll(datasets)
		return fail(StateRegistering, "", err)
	}
	run.Registry.Seal()
	s.Observer.Registered(ctx, run.ID, run.Registry.Names())

	advance(StateQuerying, nil)
	queryCtx, cancel := withTimeout(ctx, s.Options.QueryTimeout)
	result, err := s.Executor.Execute(queryCtx, sqlText, run.Registry)
	cancel()
	if err != nil {
		return fail(StateQuerying, "", classify("run query", err, lakeerr.KindExecution))
	}
	run.Result = result

	advance(StateDone, nil)
	run.FinishedAt = s.Clock()
	return run, nil
}

func (s *Service) configure(ctx context.Context) ([]target, error) {
	const op = "configure"
	if s.Config == nil {
		return nil, lakeerr.Errorf(lakeerr.KindConfig, op, "no source config loader")
	}
	if s.Executor == nil {
		return nil, lakeerr.Errorf(lakeerr.KindConfig, op, "no query executor")
	}
	cfg, err := s.Config.LoadSourceConfig(ctx)
	if err != nil {
		return nil, classify(op, err, lakeerr.KindConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	byKind := make(map[source.Kind]source.Loader, len(s.Loaders))
	for _, loader := range s.Loaders {
		if loader == nil {
			continue
		}
		if _, ok := byKind[loader.Kind()]; ok {
			return nil, lakeerr.Errorf(lakeerr.KindConfig, op, "more than one %s loader", loader.Kind())
		}
		byKind[loader.Kind()] = loader
	}

	targets := make([]target, 0, len(source.Kinds()))
	for _, kind := range source.Kinds() {
		loader, ok := byKind[kind]
		if !ok {
			return nil, lakeerr.Errorf(lakeerr.KindConfig, op, "no %s loader configured", kind)
		}
		targets = append(targets, target{
			kind:       kind,
			identifier: cfg.Identifier(kind),
			table:      cfg.TableName(kind),
			loader:     loader,
		})
	}
	return targets, nil
}

// load fills one slot per target. On error every loaded dataset has been
// released.
func (s *Service) load(ctx context.Context, run *Run, targets []target) ([]*dataset.Dataset, source.Kind, error) {
	loadCtx, cancel := withTimeout(ctx, s.Options.LoadTimeout)
	defer cancel()

	slots := make([]*dataset.Dataset, len(targets))
	var mu sync.Mutex
	loadOne := func(ctx context.Context, i int) error {
		t := targets[i]
		start := s.Clock()
		ds, err := t.loader.Load(ctx, t.identifier)
		if err == nil && ds == nil {
			err = lakeerr.Errorf(lakeerr.KindSchema, "load "+string(t.kind), "loader returned no dataset")
		}
		if err != nil {
			if ds != nil {
				ds.Release()
			}
			err = classify("load "+string(t.kind), err, lakeerr.KindSourceUnavailable)
		} else {
			slots[i] = ds
		}

		event := SourceEvent{RunID: run.ID, Kind: t.kind, Identifier: t.identifier, Duration: s.Clock().Sub(start), Err: err}
		if ds != nil && err == nil {
			event.Table = t.table
			if event.Table == "" {
				event.Table = ds.Name()
			}
			event.Rows = ds.NumRows()
		}
		mu.Lock()
		run.Sources = append(run.Sources, event)
		mu.Unlock()
		s.Observer.SourceLoaded(ctx, event)
		return err
	}

	var err error
	if s.Options.Sequential {
		for i := range targets {
			if err = loadOne(loadCtx, i); err != nil {
				break
			}
		}
	} else {
		g, gctx := errgroup.WithContext(loadCtx)
		for i := range targets {
			g.Go(func() error { return loadOne(gctx, i) })
		}
		err = g.Wait()
	}
	if err != nil {
		releaseAll(slots)
		var failed source.Kind
		for _, event := range run.Sources {
			if event.Err != nil && errors.Is(event.Err, err) {
				failed = event.Kind
				break
			}
		}
		return nil, failed, err
	}
	return slots, "", nil
}

func (s *Service) ensureDefaults() {
	if s.Observer == nil {
		s.Observer = NopObserver{}
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.NewID == nil {
		s.NewID = uuid.NewString
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func classify(op string, err error, fallback lakeerr.Kind) error {
	err = lakeerr.FromContext(op, err)
	if lakeerr.KindOf(err) == "" {
		return lakeerr.E(fallback, op, err)
	}
	return err
}

func releaseAll(datasets []*dataset.Dataset) {
	for _, ds := range datasets {
		if ds != nil {
			ds.Release()
		}
	}
}
