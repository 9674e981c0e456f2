package progress

import (
	"sync"
	"time"

	"github.com/kirillkom/scanpipe/internal/core/domain"
)

// Tracker is the single-writer, multi-reader progress state of the running
// batch. After Finish the display value drops back to 0 once settleDelay
// has passed, unless another batch started meanwhile.
type Tracker struct {
	settleDelay time.Duration
	now         func() time.Time

	mu         sync.RWMutex
	state      domain.Progress
	generation uint64
	onChange   func(domain.Progress)
}

func NewTracker(settleDelay time.Duration) *Tracker {
	return &Tracker{
		settleDelay: settleDelay,
		now:         time.Now,
	}
}

// OnChange registers a callback invoked after every state change.
func (t *Tracker) OnChange(fn func(domain.Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

func (t *Tracker) Start(batchID string, total int) {
	t.update(func(p *domain.Progress) bool {
		t.generation++
		*p = domain.Progress{
			BatchID: batchID,
			Total:   total,
			Running: true,
		}
		return true
	})
}

// Set records the latest percentage; values lower than the current one are
// ignored so observers never see progress go backwards within a batch.
func (t *Tracker) Set(current, percent int) {
	t.update(func(p *domain.Progress) bool {
		if !p.Running || percent < p.Percent {
			return false
		}
		p.Current = current
		p.Percent = percent
		return true
	})
}

func (t *Tracker) Finish() {
	var gen uint64
	t.update(func(p *domain.Progress) bool {
		p.Percent = 100
		p.Current = p.Total
		p.Running = false
		gen = t.generation
		return true
	})

	if t.settleDelay <= 0 {
		t.settle(gen)
		return
	}
	time.AfterFunc(t.settleDelay, func() { t.settle(gen) })
}

// Apply overwrites the state with a progress snapshot produced elsewhere,
// e.g. by a worker process. A finished snapshot settles like Finish.
func (t *Tracker) Apply(snapshot domain.Progress) {
	var gen uint64
	t.update(func(p *domain.Progress) bool {
		if snapshot.BatchID != p.BatchID {
			t.generation++
		} else if p.Running && snapshot.Running && snapshot.Percent < p.Percent {
			return false
		}
		*p = snapshot
		gen = t.generation
		return true
	})

	if snapshot.Running || snapshot.Percent < 100 {
		return
	}
	if t.settleDelay <= 0 {
		t.settle(gen)
		return
	}
	time.AfterFunc(t.settleDelay, func() { t.settle(gen) })
}

func (t *Tracker) Current() domain.Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Tracker) settle(gen uint64) {
	t.update(func(p *domain.Progress) bool {
		if t.generation != gen || p.Running {
			return false
		}
		p.Percent = 0
		p.Current = 0
		return true
	})
}

func (t *Tracker) update(fn func(*domain.Progress) bool) {
	t.mu.Lock()
	changed := fn(&t.state)
	if changed {
		t.state.UpdatedAt = t.now().UTC()
	}
	snapshot := t.state
	cb := t.onChange
	t.mu.Unlock()

	if changed && cb != nil {
		cb(snapshot)
	}
}
