package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Effect is the outcome of a side effect that must not fail the caller.
type Effect struct {
	Name      string
	Attempted bool
	Err       error
	At        time.Time
}

// OK reports whether the effect was attempted and succeeded.
func (e Effect) OK() bool { return e.Attempted && e.Err == nil }

// EffectRecorder observes every best-effort side effect.
type EffectRecorder interface {
	Record(Effect)
}

// EffectLog keeps effects in memory.
type EffectLog struct {
	mu      sync.Mutex
	effects []Effect
}

// Record implements EffectRecorder.
func (l *EffectLog) Record(e Effect) {
	l.mu.Lock()
	l.effects = append(l.effects, e)
	l.mu.Unlock()
}

// Named returns recorded effects with the given name, oldest first.
func (l *EffectLog) Named(name string) []Effect {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Effect
	for _, e := range l.effects {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// BestEffort runs fire-and-forget side effects: errors and panics are
// logged and recorded, never returned to the primary request path.
type BestEffort struct {
	log *zap.Logger
	rec EffectRecorder
	now func() time.Time
}

// NewBestEffort builds the helper. rec may be nil.
func NewBestEffort(log *zap.Logger, rec EffectRecorder) *BestEffort {
	if log == nil {
		log = zap.NewNop()
	}
	return &BestEffort{log: log, rec: rec, now: time.Now}
}

// Do runs fn and reports what happened.
func (b *BestEffort) Do(ctx context.Context, name string, fn func(context.Context) error) (eff Effect) {
	eff = Effect{Name: name, Attempted: true, At: b.now()}
	defer func() {
		if r := recover(); r != nil {
			eff.Err = fmt.Errorf("panic: %v", r)
		}
		if eff.Err != nil {
			b.log.Warn("best-effort side effect failed", zap.String("effect", name), zap.Error(eff.Err))
		} else {
			b.log.Debug("best-effort side effect done", zap.String("effect", name))
		}
		if b.rec != nil {
			b.rec.Record(eff)
		}
	}()
	eff.Err = fn(ctx)
	return eff
}
