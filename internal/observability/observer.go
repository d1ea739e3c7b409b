package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/pipeline"
)

type PipelineObserver struct {
	Logger *slog.Logger
}

func NewPipelineObserver(logger *slog.Logger) *PipelineObserver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PipelineObserver{Logger: logger}
}

func (o *PipelineObserver) Transition(ctx context.Context, t pipeline.Transition) {
	attrs := []any{
		slog.String("run_id", t.RunID),
		slog.String("state", string(t.To)),
	}
	if t.From != "" {
		attrs = append(attrs,
			slog.String("from", string(t.From)),
			slog.String("duration", t.Elapsed.String()),
		)
	}

	if t.From == pipeline.StateQuerying {
		ObserveQuery(t.Elapsed, t.Err)
	}
	if t.To.Terminal() {
		ObservePipelineRun(outcome(t.To), string(lakeerr.KindOf(t.Err)))
	}

	if t.Err != nil {
		attrs = append(attrs,
			slog.String("error_kind", string(lakeerr.KindOf(t.Err))),
			slog.Any("error", t.Err),
		)
		o.Logger.ErrorContext(ctx, "pipeline state changed", attrs...)
		return
	}
	o.Logger.InfoContext(ctx, "pipeline state changed", attrs...)
}

func (o *PipelineObserver) SourceLoaded(ctx context.Context, event pipeline.SourceEvent) {
	ObserveSourceLoad(string(event.Kind), event.Rows, event.Duration, event.Err)

	attrs := []any{
		slog.String("run_id", event.RunID),
		slog.String("source", string(event.Kind)),
		slog.String("identifier", event.Identifier),
		slog.String("duration", event.Duration.String()),
	}
	if event.Err != nil {
		attrs = append(attrs,
			slog.String("error_kind", string(lakeerr.KindOf(event.Err))),
			slog.Any("error", event.Err),
		)
		o.Logger.WarnContext(ctx, "source load failed", attrs...)
		return
	}
	attrs = append(attrs,
		slog.String("table", event.Table),
		slog.Int64("rows", event.Rows),
	)
	o.Logger.InfoContext(ctx, "source loaded", attrs...)
}

func (o *PipelineObserver) Registered(ctx context.Context, runID string, tables []string) {
	SetRegistryTables(len(tables))
	o.Logger.InfoContext(ctx, "tables registered",
		slog.String("run_id", runID),
		slog.Any("tables", tables),
	)
}

func outcome(state pipeline.State) string {
	if state == pipeline.StateDone {
		return "done"
	}
	return "failed"
}

var _ pipeline.Observer = (*PipelineObserver)(nil)
