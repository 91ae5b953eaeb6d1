package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/wesm/stocksync/internal/timeutil"
)

// DefaultRecentCapacity is the ring buffer size for recently
// synced product names.
const DefaultRecentCapacity = 10

// Tracker mutates the progress cell. Every operation is a
// read-modify-write of the store under one mutex, so a reader
// never sees a half-applied change.
type Tracker struct {
	mu       gosync.Mutex
	store    ProgressStore
	capacity int
	now      func() time.Time
}

// NewTracker wraps store. Non-positive capacity uses
// DefaultRecentCapacity.
func NewTracker(store ProgressStore, capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &Tracker{store: store, capacity: capacity, now: time.Now}
}

func (t *Tracker) update(
	ctx context.Context, fn func(p *Progress),
) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.store.Load(ctx)
	if err != nil {
		return err
	}
	fn(&p)
	p.UpdatedAt = timeutil.Format(t.now())
	return t.store.Store(ctx, p)
}

// Read returns a copy of the current progress.
func (t *Tracker) Read(ctx context.Context) (Progress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.store.Load(ctx)
	if err != nil {
		return Progress{}, err
	}
	return p.clone(), nil
}

// Reset returns progress to idle.
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Reset(ctx)
}

// Begin marks the start of one page call. Page 1 starts a new
// run and clears counters and recent names; later pages
// continue the run.
func (t *Tracker) Begin(ctx context.Context, phase Phase, page int) error {
	return t.update(ctx, func(p *Progress) {
		if page <= 1 {
			*p = IdleProgress()
		}
		p.Phase = phase
		p.Error = ""
		p.CurrentProduct = nil
	})
}

// SetPhase moves to phase. Leaving the error phase clears the
// error message.
func (t *Tracker) SetPhase(ctx context.Context, phase Phase) error {
	return t.update(ctx, func(p *Progress) {
		p.Phase = phase
		if phase != PhaseError {
			p.Error = ""
		}
	})
}

// SetPageInfo records the page being processed.
func (t *Tracker) SetPageInfo(ctx context.Context, current, total int) error {
	return t.update(ctx, func(p *Progress) {
		p.CurrentPage = current
		p.TotalPages = total
	})
}

// SetCounts records processed and total item counts.
func (t *Tracker) SetCounts(ctx context.Context, processed, total int) error {
	return t.update(ctx, func(p *Progress) {
		p.ProcessedCount = processed
		p.TotalCount = total
	})
}

// SetCurrent names the product being written; "" clears it.
func (t *Tracker) SetCurrent(ctx context.Context, name string) error {
	return t.update(ctx, func(p *Progress) {
		if name == "" {
			p.CurrentProduct = nil
			return
		}
		p.CurrentProduct = &name
	})
}

// PushRecent appends name, dropping the oldest entries beyond
// capacity.
func (t *Tracker) PushRecent(ctx context.Context, name string) error {
	return t.update(ctx, func(p *Progress) {
		p.RecentProducts = append(p.RecentProducts, name)
		if over := len(p.RecentProducts) - t.capacity; over > 0 {
			p.RecentProducts = append(
				[]string(nil), p.RecentProducts[over:]...,
			)
		}
	})
}

// SetError moves to the error phase with msg.
func (t *Tracker) SetError(ctx context.Context, msg string) error {
	return t.update(ctx, func(p *Progress) {
		p.Phase = PhaseError
		p.Error = msg
		p.CurrentProduct = nil
	})
}

// RecoverInterrupted marks a run left active by a previous
// process as failed. Only durable stores can hold such a run.
func (t *Tracker) RecoverInterrupted(ctx context.Context) (bool, error) {
	var recovered bool
	err := t.update(ctx, func(p *Progress) {
		if !p.Phase.Active() {
			return
		}
		recovered = true
		p.Phase = PhaseError
		p.Error = "sync interrupted by restart"
		p.CurrentProduct = nil
	})
	return recovered, err
}
