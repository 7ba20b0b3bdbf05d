package config

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/marketguard/internal/manipulation"
)

// DetectionHolder publishes the detection thresholds currently in effect.
// Readers take a lock-free snapshot once per evaluation cycle; writers are
// serialised and every accepted update bumps the version.
type DetectionHolder struct {
	cur atomic.Pointer[manipulation.Thresholds]

	mu    sync.Mutex
	hooks []func(manipulation.Thresholds)
}

// NewDetectionHolder validates initial and publishes it as version 1.
func NewDetectionHolder(initial manipulation.Thresholds) (*DetectionHolder, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("config: initial detection thresholds: %w", err)
	}
	initial.Version = 1
	h := &DetectionHolder{}
	h.cur.Store(&initial)
	return h, nil
}

// Current returns the thresholds in effect.
func (h *DetectionHolder) Current() manipulation.Thresholds {
	return *h.cur.Load()
}

// Version returns the version of the thresholds in effect.
func (h *DetectionHolder) Version() uint64 {
	return h.cur.Load().Version
}

// Update validates next and swaps it in. An invalid update is rejected as a
// whole and the previous thresholds stay in effect.
func (h *DetectionHolder) Update(next manipulation.Thresholds) (manipulation.Thresholds, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.cur.Load()
	if err := next.Validate(); err != nil {
		return *prev, fmt.Errorf("config: reject detection update: %w", err)
	}
	next.Version = prev.Version + 1
	h.cur.Store(&next)

	for _, fn := range h.hooks {
		fn(next)
	}
	return next, nil
}

// OnChange registers fn to run after every accepted update.
func (h *DetectionHolder) OnChange(fn func(manipulation.Thresholds)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.hooks = append(h.hooks, fn)
	h.mu.Unlock()
}
