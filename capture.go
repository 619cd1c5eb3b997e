package main

import "sync/atomic"

// CallStart is the argument snapshot delivered by a capture point when an
// open-family call begins (or, under the combined strategy, together with its
// outcome).
type CallStart struct {
	ID       uint64 // pid<<32 | tid
	UID      uint32
	Comm     [CommLen]byte
	Filename []byte
	Flags    int32
	Mode     uint32
}

// CallOutcome is the result snapshot delivered when the call returns. Cwd
// supplies the calling thread's working-directory chain for path
// reconstruction; it may be nil when the platform cannot provide one.
type CallOutcome struct {
	ID        uint64
	UID       uint32 // credentials at return time
	Ret       int32
	Timestamp uint64 // microseconds since boot
	Cwd       DirWalker
}

// Engine is the capture-and-reconstruction core. Capture points feed it from
// any number of execution contexts; it applies the early filters, bridges
// split captures through the PendingStore, expands relative paths, and
// encodes events into the bounded ring channel. It never blocks: when the
// channel is full the record is dropped and counted.
type Engine struct {
	layout  Layout
	filters *FilterConfig
	store   *PendingStore
	events  chan []byte

	lost   atomic.Uint64 // channel full at submission
	misses atomic.Uint64 // outcome with no pending start
}

// NewEngine creates an engine whose ring channel holds chanCap records.
func NewEngine(layout Layout, filters *FilterConfig, storeCap, chanCap int) *Engine {
	return &Engine{
		layout:  layout,
		filters: filters,
		store:   NewPendingStore(storeCap),
		events:  make(chan []byte, chanCap),
	}
}

// Events is the multi-producer/single-consumer channel of encoded records.
// Ownership of a record transfers fully to the consumer on receive.
func (e *Engine) Events() <-chan []byte { return e.events }

// Lost returns the number of records dropped because the channel was full.
func (e *Engine) Lost() uint64 { return e.lost.Load() }

// Misses returns the number of outcomes discarded for lack of a pending start.
func (e *Engine) Misses() uint64 { return e.misses.Load() }

// HandleStart observes a call start under the split strategy. Attempts that
// fail an early filter are discarded with no state retained; so are starts
// arriving while the store is at capacity, which later surface as silent
// correlation misses.
func (e *Engine) HandleStart(c CallStart) {
	if !e.filters.earlyAllow(c.ID, c.UID, c.Flags) {
		return
	}
	e.store.Insert(c.ID, PendingCall{
		ID:       c.ID,
		Comm:     c.Comm,
		Filename: c.Filename,
		Flags:    c.Flags,
		Mode:     c.Mode,
	})
}

// HandleOutcome observes a call outcome under the split strategy. An outcome
// with no matching start is dropped silently.
func (e *Engine) HandleOutcome(o CallOutcome) {
	pc, ok := e.store.TakeAndRemove(o.ID)
	if !ok {
		e.misses.Add(1)
		if o.Cwd != nil {
			o.Cwd.Close()
		}
		return
	}
	// The UID filter ran at start; the emitted event carries the
	// return-time credentials like the rest of the outcome snapshot.
	e.submit(CallStart{
		ID:       pc.ID,
		UID:      o.UID,
		Comm:     pc.Comm,
		Filename: pc.Filename,
		Flags:    pc.Flags,
		Mode:     pc.Mode,
	}, o)
}

// HandleCombined observes arguments and outcome delivered atomically by one
// capture point. No correlation state is involved.
func (e *Engine) HandleCombined(c CallStart, o CallOutcome) {
	if !e.filters.earlyAllow(c.ID, c.UID, c.Flags) {
		if o.Cwd != nil {
			o.Cwd.Close()
		}
		return
	}
	e.submit(c, o)
}

// submit builds the wire record and offers it to the ring channel without
// blocking.
func (e *Engine) submit(c CallStart, o CallOutcome) {
	ev := &OpenEvent{
		ID:        c.ID,
		Timestamp: o.Timestamp,
		UID:       c.UID,
		Ret:       o.Ret,
		Comm:      c.Comm,
		Name:      make([]byte, e.layout.NameLen()),
		Flags:     c.Flags,
		Mode:      c.Mode,
	}
	n := len(c.Filename)
	if n > NameMax {
		n = NameMax
	}
	copy(ev.Name[:NameMax], c.Filename[:n])
	if o.Cwd != nil {
		if e.layout.FullPath && n > 0 && c.Filename[0] != '/' {
			ev.Depth = reconstructPath(ev.Name, o.Cwd)
		}
		// Whether stepped or not, the walker holds an open directory.
		o.Cwd.Close()
	}

	select {
	case e.events <- e.layout.Encode(ev):
	default:
		// Full channel: drop rather than stall the traced workload.
		e.lost.Add(1)
	}
}
