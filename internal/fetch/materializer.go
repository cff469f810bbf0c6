package fetch

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Tracks retrievals in flight. prometheus.Gauge satisfies it.
type InFlightTracker interface {
	Inc()
	Dec()
}

type Materialized struct {
	Ref      ContentRef
	Filename string
	Skipped  bool   // already on durable storage, no request issued
	Data     []byte // raw payload, nil when skipped
}

// Materializer skips assets already written to the store and otherwise downloads them,
// never running more than limit retrievals at once.
type Materializer struct {
	client   Client
	store    Store
	sem      *semaphore.Weighted
	inFlight InFlightTracker
}

func NewMaterializer(client Client, store Store, limit int, inFlight InFlightTracker) *Materializer {
	if limit < 1 {
		limit = 1
	}
	return NewMaterializerWithLimiter(client, store, semaphore.NewWeighted(int64(limit)), inFlight)
}

// NewMaterializerWithLimiter holds a permit of sem for every download
func NewMaterializerWithLimiter(client Client, store Store, sem *semaphore.Weighted, inFlight InFlightTracker) *Materializer {
	return &Materializer{
		client:   client,
		store:    store,
		sem:      sem,
		inFlight: inFlight,
	}
}

func (m *Materializer) Materialize(ctx context.Context, ref ContentRef) (*Materialized, error) {
	filename := ref.Filename()
	if m.store.Exists(filename) {
		return &Materialized{Ref: ref, Filename: filename, Skipped: true}, nil
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.sem.Release(1)

	if m.inFlight != nil {
		m.inFlight.Inc()
		defer m.inFlight.Dec()
	}

	resp, err := m.client.Get(ctx, ref.RequestURL())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}

	return &Materialized{Ref: ref, Filename: filename, Data: resp.Body}, nil
}
