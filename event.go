package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Wire-format bounds shared with bpf/opensnoop.bpf.c.
const (
	CommLen       = 16  // TASK_COMM_LEN
	NameMax       = 255 // one path component, NUL not required when exactly full
	MaxPathChunks = 32  // deeper working directories truncate silently
)

// Layout fixes the shape of every OpenEvent in a session. It is chosen once
// at startup and never switched: full-path mode swaps the single name buffer
// for a 32-slot chunk table, and extended mode appends the flags/mode pair.
type Layout struct {
	FullPath bool
	Extended bool
}

// NameLen returns the byte length of the name field under this layout.
func (l Layout) NameLen() int {
	if l.FullPath {
		return NameMax * MaxPathChunks
	}
	return NameMax
}

// Size returns the total byte length of one encoded OpenEvent.
func (l Layout) Size() int {
	n := eventHeaderLen + l.NameLen()
	if l.Extended {
		n += 8
	}
	return n
}

// Field offsets of the encoded record. All fields are little-endian and
// positionally self-describing; there is no variable-length encoding.
const (
	offID          = 0
	offTimestamp   = 8
	offUID         = 16
	offRet         = 20
	offComm        = 24
	offDepth       = 40
	offName        = 44
	eventHeaderLen = offName
)

// OpenEvent is one observed open-family call attempt. The Name field is
// either a single component buffer or a chunk table, per the session Layout;
// Flags and Mode are meaningful only under an extended layout.
type OpenEvent struct {
	ID        uint64 // pid in the high 32 bits, tid in the low 32
	Timestamp uint64 // microseconds since boot
	UID       uint32
	Ret       int32
	Comm      [CommLen]byte
	Depth     uint32 // filled chunk-table slots beyond slot zero
	Name      []byte
	Flags     int32
	Mode      uint32
}

// PID returns the process id half of the composite thread identifier.
func (e *OpenEvent) PID() uint32 { return uint32(e.ID >> 32) }

// TID returns the thread id half of the composite thread identifier.
func (e *OpenEvent) TID() uint32 { return uint32(e.ID) }

// CommString returns the process name with trailing NULs stripped.
func (e *OpenEvent) CommString() string {
	return cstring(e.Comm[:])
}

// Encode serializes ev into a freshly allocated record of l.Size() bytes.
func (l Layout) Encode(ev *OpenEvent) []byte {
	raw := make([]byte, l.Size())
	binary.LittleEndian.PutUint64(raw[offID:], ev.ID)
	binary.LittleEndian.PutUint64(raw[offTimestamp:], ev.Timestamp)
	binary.LittleEndian.PutUint32(raw[offUID:], ev.UID)
	binary.LittleEndian.PutUint32(raw[offRet:], uint32(ev.Ret))
	copy(raw[offComm:offComm+CommLen], ev.Comm[:])
	binary.LittleEndian.PutUint32(raw[offDepth:], ev.Depth)
	copy(raw[offName:offName+l.NameLen()], ev.Name)
	if l.Extended {
		ext := offName + l.NameLen()
		binary.LittleEndian.PutUint32(raw[ext:], uint32(ev.Flags))
		binary.LittleEndian.PutUint32(raw[ext+4:], ev.Mode)
	}
	return raw
}

// Decode parses a raw record into an OpenEvent. The record must be at least
// l.Size() bytes; ring buffer records may carry trailing padding.
func (l Layout) Decode(raw []byte) (*OpenEvent, error) {
	if len(raw) < l.Size() {
		return nil, fmt.Errorf("short event record: got %d, want >= %d", len(raw), l.Size())
	}
	ev := &OpenEvent{
		ID:        binary.LittleEndian.Uint64(raw[offID:]),
		Timestamp: binary.LittleEndian.Uint64(raw[offTimestamp:]),
		UID:       binary.LittleEndian.Uint32(raw[offUID:]),
		Ret:       int32(binary.LittleEndian.Uint32(raw[offRet:])),
		Depth:     binary.LittleEndian.Uint32(raw[offDepth:]),
		Name:      make([]byte, l.NameLen()),
	}
	copy(ev.Comm[:], raw[offComm:offComm+CommLen])
	copy(ev.Name, raw[offName:offName+l.NameLen()])
	if ev.Depth >= MaxPathChunks {
		return nil, fmt.Errorf("corrupt event record: path depth %d", ev.Depth)
	}
	if l.Extended {
		ext := offName + l.NameLen()
		ev.Flags = int32(binary.LittleEndian.Uint32(raw[ext:]))
		ev.Mode = binary.LittleEndian.Uint32(raw[ext+4:])
	}
	return ev, nil
}

// cstring interprets b as a NUL-terminated string, using all of b when no
// terminator is present.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
