package chat

import (
	"context"
	"sync"
	"time"
)

// gate serializes whole turns per model: a bounded queue in front of a
// single in-flight slot.
type gate struct {
	genCh   chan struct{}
	queueCh chan struct{}
}

// admission hands out per-model gates. A nil *admission admits everything.
type admission struct {
	maxQueue int
	maxWait  time.Duration

	mu    sync.Mutex
	gates map[string]*gate
}

func newAdmission(maxQueue int, maxWait time.Duration) *admission {
	if maxQueue <= 0 {
		maxQueue = 8
	}
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &admission{maxQueue: maxQueue, maxWait: maxWait, gates: make(map[string]*gate)}
}

func (a *admission) gateFor(modelID string) *gate {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.gates[modelID]
	if !ok {
		g = &gate{genCh: make(chan struct{}, 1), queueCh: make(chan struct{}, a.maxQueue)}
		a.gates[modelID] = g
	}
	return g
}

// begin reserves a queue slot and then the in-flight slot for modelID.
// The returned release func must be called exactly once.
func (a *admission) begin(ctx context.Context, modelID string) (func(), error) {
	if a == nil {
		return func() {}, nil
	}
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	g := a.gateFor(modelID)

	timer := time.NewTimer(a.maxWait)
	defer timer.Stop()
	select {
	case g.queueCh <- struct{}{}:
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{modelID: modelID}
	}

	acquired := false
	defer func() {
		if !acquired {
			<-g.queueCh
		}
	}()
	timer2 := time.NewTimer(a.maxWait)
	defer timer2.Stop()
	select {
	case g.genCh <- struct{}{}:
		acquired = true
		var once sync.Once
		return func() { once.Do(func() { <-g.genCh; <-g.queueCh }) }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer2.C:
		return func() {}, tooBusyError{modelID: modelID}
	}
}
