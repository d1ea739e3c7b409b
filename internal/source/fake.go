package source

import (
	"context"
	"sync"
	"time"

	"github.com/arrowlake/arrowlake/internal/dataset"
	"github.com/arrowlake/arrowlake/internal/lakeerr"
)

// Fake is a loader that returns a canned dataset or error without any IO.
type Fake struct {
	SourceKind Kind
	Dataset    *dataset.Dataset
	Err        error
	Delay      time.Duration

	mu          sync.Mutex
	calls       int
	identifiers []string
}

func (f *Fake) Kind() Kind { return f.SourceKind }

// Load hands out a new reference to the canned dataset; the fake keeps its
// own until the test releases it.
func (f *Fake) Load(ctx context.Context, identifier string) (*dataset.Dataset, error) {
	f.mu.Lock()
	f.calls++
	f.identifiers = append(f.identifiers, identifier)
	f.mu.Unlock()

	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, lakeerr.E(lakeerr.KindCancelled, "load "+string(f.SourceKind), ctx.Err())
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, lakeerr.E(lakeerr.KindCancelled, "load "+string(f.SourceKind), err)
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Dataset == nil {
		return nil, lakeerr.Errorf(lakeerr.KindSourceUnavailable, "load "+string(f.SourceKind), "no dataset for %q", identifier)
	}
	f.Dataset.Retain()
	return f.Dataset, nil
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) Identifiers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.identifiers...)
}
