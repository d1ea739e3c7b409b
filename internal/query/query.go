package query

import (
	"context"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/arrowlake/arrowlake/internal/dataset"
)

type Table struct {
	Name    string
	Dataset *dataset.Dataset
}

type Request struct {
	SQL      string
	RowLimit int
	Tables   []Table
}

type Engine interface {
	Execute(ctx context.Context, request Request) (*Result, error)
}

// Result is an ordered sequence of record batches. Next hands each batch out
// once and releases the batch it handed out before; Release frees the rest.
type Result struct {
	schema   *arrow.Schema
	batches  []arrow.Record
	rows     int64
	Tables   []string
	Duration time.Duration

	mu       sync.Mutex
	next     int
	released bool
}

// NewResult takes ownership of batches.
func NewResult(schema *arrow.Schema, batches []arrow.Record) *Result {
	var rows int64
	for _, batch := range batches {
		rows += batch.NumRows()
	}
	return &Result{schema: schema, batches: batches, rows: rows}
}

func (r *Result) Schema() *arrow.Schema { return r.schema }

func (r *Result) Columns() []string {
	if r.schema == nil {
		return nil
	}
	columns := make([]string, 0, r.schema.NumFields())
	for _, field := range r.schema.Fields() {
		columns = append(columns, field.Name)
	}
	return columns
}

func (r *Result) NumBatches() int { return len(r.batches) }

func (r *Result) NumRows() int64 { return r.rows }

// Next returns the next batch. The previous batch is released, so a record is
// valid only until the following call to Next or Release.
func (r *Result) Next() (arrow.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, false
	}
	r.releasePrevious()
	if r.next >= len(r.batches) {
		return nil, false
	}
	batch := r.batches[r.next]
	r.next++
	return batch, true
}

func (r *Result) releasePrevious() {
	if r.next == 0 {
		return
	}
	if previous := r.batches[r.next-1]; previous != nil {
		previous.Release()
		r.batches[r.next-1] = nil
	}
}

func (r *Result) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true
	for _, batch := range r.batches {
		if batch != nil {
			batch.Release()
		}
	}
	r.batches = nil
}
