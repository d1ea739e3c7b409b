package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/arrowlake/arrowlake/internal/catalog"
	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/query"
	"github.com/arrowlake/arrowlake/internal/source"
)

type State string

const (
	StateConfiguring State = "Configuring"
	StateLoading     State = "Loading"
	StateRegistering State = "Registering"
	StateQuerying    State = "Querying"
	StateDone        State = "Done"
	StateFailed      State = "Failed"
)

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

type Transition struct {
	RunID string
	From  State
	To    State
	At    time.Time
	// Elapsed is the time spent in From.
	Elapsed time.Duration
	Err     error
}

type SourceEvent struct {
	RunID      string
	Kind       source.Kind
	Identifier string
	Table      string
	Rows       int64
	Duration   time.Duration
	Err        error
}

// Observer receives pipeline events. Implementations must be safe for
// concurrent SourceLoaded calls.
type Observer interface {
	Transition(ctx context.Context, t Transition)
	SourceLoaded(ctx context.Context, event SourceEvent)
	Registered(ctx context.Context, runID string, tables []string)
}

type NopObserver struct{}

func (NopObserver) Transition(context.Context, Transition)        {}
func (NopObserver) SourceLoaded(context.Context, SourceEvent)     {}
func (NopObserver) Registered(context.Context, string, []string) {}

// RunError is the single failure a run reports: the stage it failed in and
// the originating error.
type RunError struct {
	Stage  State
	Source source.Kind
	Err    error
}

func (e *RunError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Source, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

func (e *RunError) Kind() lakeerr.Kind {
	if kind := lakeerr.KindOf(e.Err); kind != "" {
		return kind
	}
	return lakeerr.KindExecution
}

type Run struct {
	ID          string
	SQL         string
	State       State
	FailedStage State
	Err         error
	Transitions []Transition
	Sources     []SourceEvent
	Registry    *catalog.Registry
	Result      *query.Result
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (r *Run) Close() {
	if r.Result != nil {
		r.Result.Release()
	}
	if r.Registry != nil {
		r.Registry.Close()
	}
}
