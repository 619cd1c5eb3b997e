package main

// TraceProvider is the platform instrumentation layer: the core queries its
// capabilities once at startup and invokes Attach to arm capture points. The
// production implementation is eBPF-backed; tests inject a mock.
type TraceProvider interface {
	// SupportsVariant reports whether the running kernel exposes the
	// syscall variant. Absence is a capability, not an error.
	SupportsVariant(v Variant) bool

	// SupportsCombined reports whether the variant's arguments and outcome
	// can be observed atomically in one capture point.
	SupportsCombined(v Variant) bool

	// Attach installs capture points per plan and routes observations into
	// the engine. Any installation failure is fatal: partial instrumentation
	// is not attempted and the error aborts startup.
	Attach(plan AttachPlan, engine *Engine) error

	// Close detaches all capture points and releases resources.
	Close() error
}
