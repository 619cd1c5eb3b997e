package main

import (
	"strings"
	"testing"

	"github.com/cilium/ebpf"
)

func TestAttachRejectsIncompleteObject(t *testing.T) {
	// An object compiled from older sources can lack programs the plan
	// expects; that must surface as an attach error, not a panic.
	tests := []struct {
		name     string
		programs map[string]*ebpf.ProgramSpec
		plan     AttachPlan
		wantMiss string
	}{
		{
			name:     "missing fexit program",
			programs: map[string]*ebpf.ProgramSpec{},
			plan:     AttachPlan{VariantOpenat: StrategyCombined},
			wantMiss: "fexit_openat",
		},
		{
			name: "missing exit half of a tracepoint pair",
			programs: map[string]*ebpf.ProgramSpec{
				"enter_open": {},
			},
			plan:     AttachPlan{VariantOpen: StrategySplit},
			wantMiss: "exit_open",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &RealTraceProvider{
				cfg:  validConfig(),
				spec: &ebpf.CollectionSpec{Programs: tt.programs},
				done: make(chan struct{}),
			}
			engine := NewEngine(Layout{}, &FilterConfig{}, defaultStoreCap, 16)
			err := p.Attach(tt.plan, engine)
			if err == nil {
				t.Fatal("Attach accepted an object missing planned programs")
			}
			if !strings.Contains(err.Error(), tt.wantMiss) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantMiss)
			}
		})
	}
}
