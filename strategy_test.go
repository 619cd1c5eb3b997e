package main

import "testing"

func TestSelectStrategies(t *testing.T) {
	tests := []struct {
		name     string
		variants map[Variant]bool
		combined map[Variant]bool
		want     AttachPlan
	}{
		{
			name: "split everywhere on a minimal kernel",
			want: AttachPlan{
				VariantOpen:    StrategySplit,
				VariantOpenat:  StrategySplit,
				VariantOpenat2: StrategySplit,
			},
		},
		{
			name:     "combined everywhere when supported",
			combined: map[Variant]bool{VariantOpen: true, VariantOpenat: true, VariantOpenat2: true},
			want: AttachPlan{
				VariantOpen:    StrategyCombined,
				VariantOpenat:  StrategyCombined,
				VariantOpenat2: StrategyCombined,
			},
		},
		{
			name:     "missing openat2 is skipped",
			variants: map[Variant]bool{VariantOpenat2: false},
			combined: map[Variant]bool{VariantOpen: true, VariantOpenat: true, VariantOpenat2: true},
			want: AttachPlan{
				VariantOpen:   StrategyCombined,
				VariantOpenat: StrategyCombined,
			},
		},
		{
			name:     "strategies mix per variant",
			combined: map[Variant]bool{VariantOpenat: true},
			want: AttachPlan{
				VariantOpen:    StrategySplit,
				VariantOpenat:  StrategyCombined,
				VariantOpenat2: StrategySplit,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewMockTraceProvider()
			for v, ok := range tt.variants {
				p.SetVariant(v, ok)
			}
			for v, ok := range tt.combined {
				p.SetCombined(v, ok)
			}

			plan := SelectStrategies(p)
			if len(plan) != len(tt.want) {
				t.Fatalf("plan has %d variants, want %d: %v", len(plan), len(tt.want), plan)
			}
			for v, s := range tt.want {
				got, ok := plan[v]
				if !ok {
					t.Errorf("variant %s missing from plan", v)
					continue
				}
				if got != s {
					t.Errorf("plan[%s] = %s, want %s", v, got, s)
				}
			}
		})
	}
}

func TestMockProviderIgnoresUnplannedVariants(t *testing.T) {
	p := NewMockTraceProvider()
	p.SetVariant(VariantOpenat2, false)
	e := NewEngine(Layout{}, &FilterConfig{}, defaultStoreCap, 16)
	if err := p.Attach(SelectStrategies(p), e); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	p.Emit(VariantOpenat2, CreateMockCall(1, 1, 0, "x", "/f", 0, 0, 3, 1))
	requireEmpty(t, e)
	if e.Misses() != 0 {
		t.Errorf("Misses() = %d, want 0", e.Misses())
	}
}

func TestMockProviderClosedAttach(t *testing.T) {
	p := NewMockTraceProvider()
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	e := NewEngine(Layout{}, &FilterConfig{}, defaultStoreCap, 16)
	if err := p.Attach(SelectStrategies(p), e); err == nil {
		t.Error("Attach after Close should fail")
	}
}
