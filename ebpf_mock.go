package main

import (
	"fmt"
	"sync"
)

// MockCall scripts one open-family call for the mock provider. SkipStart
// simulates an outcome whose start was never observed; SkipOutcome simulates
// a start whose outcome never arrives.
type MockCall struct {
	Start       CallStart
	Outcome     CallOutcome
	SkipStart   bool
	SkipOutcome bool
}

// MockTraceProvider is a scripted platform layer for tests: capabilities are
// toggled per variant, and Emit drives calls through whichever capture
// points Attach armed.
type MockTraceProvider struct {
	mu       sync.Mutex
	variants map[Variant]bool
	combined map[Variant]bool
	plan     AttachPlan
	engine   *Engine
	closed   bool
}

// NewMockTraceProvider creates a provider supporting every variant with the
// split strategy only, the weakest platform the core must handle.
func NewMockTraceProvider() *MockTraceProvider {
	return &MockTraceProvider{
		variants: map[Variant]bool{VariantOpen: true, VariantOpenat: true, VariantOpenat2: true},
		combined: map[Variant]bool{},
	}
}

// SetVariant toggles kernel support for a variant.
func (m *MockTraceProvider) SetVariant(v Variant, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variants[v] = ok
}

// SetCombined toggles atomic combined-capture support for a variant.
func (m *MockTraceProvider) SetCombined(v Variant, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.combined[v] = ok
}

func (m *MockTraceProvider) SupportsVariant(v Variant) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.variants[v]
}

func (m *MockTraceProvider) SupportsCombined(v Variant) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.combined[v]
}

// Attach records the plan and engine; subsequent Emit calls route through
// them.
func (m *MockTraceProvider) Attach(plan AttachPlan, engine *Engine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("provider is closed")
	}
	m.plan = plan
	m.engine = engine
	return nil
}

// Emit plays one scripted call against the armed capture points. Calls for
// variants outside the plan are ignored, like syscalls the platform never
// instrumented.
func (m *MockTraceProvider) Emit(v Variant, call MockCall) {
	m.mu.Lock()
	strategy, planned := m.plan[v]
	engine := m.engine
	m.mu.Unlock()
	if engine == nil || !planned {
		return
	}
	if strategy == StrategyCombined {
		engine.HandleCombined(call.Start, call.Outcome)
		return
	}
	if !call.SkipStart {
		engine.HandleStart(call.Start)
	}
	if !call.SkipOutcome {
		engine.HandleOutcome(call.Outcome)
	}
}

// Close marks the provider closed.
func (m *MockTraceProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// CreateMockCall builds a scripted call with matching start and outcome
// snapshots.
func CreateMockCall(pid, tid, uid uint32, comm, filename string, flags int32, mode uint32, ret int32, ts uint64) MockCall {
	id := uint64(pid)<<32 | uint64(tid)
	start := CallStart{
		ID:       id,
		UID:      uid,
		Filename: []byte(filename),
		Flags:    flags,
		Mode:     mode,
	}
	copy(start.Comm[:], comm)
	return MockCall{
		Start:   start,
		Outcome: CallOutcome{ID: id, UID: uid, Ret: ret, Timestamp: ts},
	}
}

// mockDirWalker replays a fixed working-directory chain.
type mockDirWalker struct {
	steps  []DirStep
	next   int
	closed bool
}

func newMockDirWalker(steps ...DirStep) *mockDirWalker {
	return &mockDirWalker{steps: steps}
}

// chainOf builds a walker for an absolute working directory like
// "/home/user": leaf-to-root component steps ending at the real root.
func chainOf(components ...string) *mockDirWalker {
	steps := make([]DirStep, 0, len(components)+1)
	for i := len(components) - 1; i >= 0; i-- {
		steps = append(steps, DirStep{Name: components[i]})
	}
	steps = append(steps, DirStep{Name: "/", MountBoundary: true, FinalRoot: true})
	return newMockDirWalker(steps...)
}

func (w *mockDirWalker) Step() (DirStep, bool) {
	if w.next >= len(w.steps) {
		return DirStep{}, false
	}
	st := w.steps[w.next]
	w.next++
	return st, true
}

func (w *mockDirWalker) Close() error {
	w.closed = true
	return nil
}
