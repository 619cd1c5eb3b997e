package main

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestEarlyAllow(t *testing.T) {
	id := func(pid, tid uint32) uint64 { return uint64(pid)<<32 | uint64(tid) }

	tests := []struct {
		name    string
		filters FilterConfig
		id      uint64
		uid     uint32
		flags   int32
		want    bool
	}{
		{
			name: "no filters pass everything",
			id:   id(1, 2), uid: 0, flags: 0,
			want: true,
		},
		{
			name:    "tid match",
			filters: FilterConfig{TID: 7, HasTID: true},
			id:      id(3, 7),
			want:    true,
		},
		{
			name:    "tid mismatch",
			filters: FilterConfig{TID: 7, HasTID: true},
			id:      id(3, 8),
			want:    false,
		},
		{
			name:    "tid overrides pid",
			filters: FilterConfig{TID: 7, HasTID: true, PID: 999, HasPID: true},
			id:      id(3, 7), // pid 3 would fail the pid filter
			want:    true,
		},
		{
			name:    "pid match",
			filters: FilterConfig{PID: 3, HasPID: true},
			id:      id(3, 99),
			want:    true,
		},
		{
			name:    "pid mismatch",
			filters: FilterConfig{PID: 3, HasPID: true},
			id:      id(4, 99),
			want:    false,
		},
		{
			name:    "uid mismatch",
			filters: FilterConfig{UID: 1000, HasUID: true},
			id:      id(1, 1), uid: 0,
			want: false,
		},
		{
			name:    "flag mask matches any set bit",
			filters: FilterConfig{FlagMask: unix.O_WRONLY | unix.O_CREAT, HasFlagMask: true},
			id:      id(1, 1), flags: unix.O_CREAT | unix.O_CLOEXEC,
			want: true,
		},
		{
			name:    "flag mask with no overlap",
			filters: FilterConfig{FlagMask: unix.O_WRONLY | unix.O_CREAT, HasFlagMask: true},
			id:      id(1, 1), flags: unix.O_RDONLY,
			want: false,
		},
		{
			name:    "container predicate discards",
			filters: FilterConfig{FilterContainer: func(uint64) bool { return true }},
			id:      id(1, 1),
			want:    false,
		},
		{
			name:    "container predicate admits",
			filters: FilterConfig{FilterContainer: func(uint64) bool { return false }},
			id:      id(1, 1),
			want:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filters.earlyAllow(tt.id, tt.uid, tt.flags); got != tt.want {
				t.Errorf("earlyAllow() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLateAllow(t *testing.T) {
	event := func(comm string, ret int32) *OpenEvent {
		ev := &OpenEvent{Ret: ret}
		copy(ev.Comm[:], comm)
		return ev
	}

	tests := []struct {
		name    string
		filters FilterConfig
		ev      *OpenEvent
		want    bool
	}{
		{
			name:    "failed-only drops success",
			filters: FilterConfig{FailedOnly: true},
			ev:      event("cat", 3),
			want:    false,
		},
		{
			name:    "failed-only keeps failure",
			filters: FilterConfig{FailedOnly: true},
			ev:      event("cat", -2),
			want:    true,
		},
		{
			name:    "name substring matches",
			filters: FilterConfig{NameContains: []byte("sh")},
			ev:      event("bash", 3),
			want:    true,
		},
		{
			name:    "name substring misses",
			filters: FilterConfig{NameContains: []byte("java")},
			ev:      event("bash", 3),
			want:    false,
		},
		{
			name:    "both checks must pass",
			filters: FilterConfig{FailedOnly: true, NameContains: []byte("sh")},
			ev:      event("bash", 3),
			want:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filters.lateAllow(tt.ev); got != tt.want {
				t.Errorf("lateAllow() = %v, want %v", got, tt.want)
			}
		})
	}
}
