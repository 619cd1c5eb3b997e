package main

// Variant identifies one open-family syscall.
type Variant int

const (
	VariantOpen Variant = iota
	VariantOpenat
	VariantOpenat2
	variantCount
)

func (v Variant) String() string {
	switch v {
	case VariantOpen:
		return "open"
	case VariantOpenat:
		return "openat"
	case VariantOpenat2:
		return "openat2"
	}
	return "unknown"
}

// Strategy is how a variant's arguments and outcome are captured.
type Strategy int

const (
	// StrategyCombined observes arguments and return value in one capture
	// point; no correlation state is ever created for the variant.
	StrategyCombined Strategy = iota
	// StrategySplit installs a start/outcome pair of capture points bridged
	// by the PendingStore.
	StrategySplit
)

func (s Strategy) String() string {
	if s == StrategyCombined {
		return "combined"
	}
	return "split"
}

// AttachPlan maps each instrumentable variant to its capture strategy for the
// session. Variants the kernel does not expose are simply absent.
type AttachPlan map[Variant]Strategy

// SelectStrategies queries the platform once at startup and fixes the plan.
// Missing openat2 and missing combined-capture support are capabilities, not
// errors: the variant is skipped or the split strategy is used instead.
func SelectStrategies(p TraceProvider) AttachPlan {
	plan := make(AttachPlan, variantCount)
	for v := Variant(0); v < variantCount; v++ {
		if !p.SupportsVariant(v) {
			continue
		}
		if p.SupportsCombined(v) {
			plan[v] = StrategyCombined
		} else {
			plan[v] = StrategySplit
		}
	}
	return plan
}
