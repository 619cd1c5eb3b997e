package main

import "bytes"

// FilterConfig is the immutable filter snapshot taken at startup. Early
// checks run on the capture path and discard attempts before any event is
// produced; late checks run in the consumer where the per-event cost is paid
// only for records that survived capture.
type FilterConfig struct {
	TID     uint32
	HasTID  bool
	PID     uint32
	HasPID  bool
	UID     uint32
	HasUID  bool
	FlagMask    int32
	HasFlagMask bool

	// FilterContainer reports whether the call's execution context should be
	// discarded on container/namespace grounds. Supplied by the platform
	// layer; nil disables the check.
	FilterContainer func(id uint64) bool

	NameContains []byte
	FailedOnly   bool
}

// earlyAllow applies the pre-capture checks in cost order. A configured
// thread-id filter is evaluated first and overrides the process-id filter
// entirely.
func (f *FilterConfig) earlyAllow(id uint64, uid uint32, flags int32) bool {
	if f.HasTID {
		if uint32(id) != f.TID {
			return false
		}
	} else if f.HasPID && uint32(id>>32) != f.PID {
		return false
	}
	if f.HasUID && uid != f.UID {
		return false
	}
	if f.HasFlagMask && flags&f.FlagMask == 0 {
		return false
	}
	if f.FilterContainer != nil && f.FilterContainer(id) {
		return false
	}
	return true
}

// lateAllow applies the post-decode checks: failed-only framing and process
// name substring containment.
func (f *FilterConfig) lateAllow(ev *OpenEvent) bool {
	if f.FailedOnly && ev.Ret >= 0 {
		return false
	}
	if len(f.NameContains) > 0 && !bytes.Contains(ev.Comm[:], f.NameContains) {
		return false
	}
	return true
}
