package main

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/sys/unix"
)

// openFlagSymbols maps the accepted -f tokens to their flag values. Tokens
// outside this table are a fatal configuration error.
var openFlagSymbols = map[string]int32{
	"O_RDONLY":    unix.O_RDONLY,
	"O_WRONLY":    unix.O_WRONLY,
	"O_RDWR":      unix.O_RDWR,
	"O_APPEND":    unix.O_APPEND,
	"O_ASYNC":     unix.O_ASYNC,
	"O_CLOEXEC":   unix.O_CLOEXEC,
	"O_CREAT":     unix.O_CREAT,
	"O_DIRECT":    unix.O_DIRECT,
	"O_DIRECTORY": unix.O_DIRECTORY,
	"O_DSYNC":     unix.O_DSYNC,
	"O_EXCL":      unix.O_EXCL,
	"O_LARGEFILE": unix.O_LARGEFILE,
	"O_NDELAY":    unix.O_NDELAY,
	"O_NOATIME":   unix.O_NOATIME,
	"O_NOCTTY":    unix.O_NOCTTY,
	"O_NOFOLLOW":  unix.O_NOFOLLOW,
	"O_NONBLOCK":  unix.O_NONBLOCK,
	"O_PATH":      unix.O_PATH,
	"O_SYNC":      unix.O_SYNC,
	"O_TMPFILE":   unix.O_TMPFILE,
	"O_TRUNC":     unix.O_TRUNC,
}

// defaultStoreCap bounds the number of in-flight calls under the split
// strategy, matching the hash sizing of the kernel-side original.
const defaultStoreCap = 10240

// Config is the immutable snapshot of all startup options.
type Config struct {
	Timestamp  bool
	PrintUID   bool
	FailedOnly bool
	Extended   bool
	FullPath   bool
	Verbose    bool

	PID int64 // -1 when unset
	TID int64
	UID int64

	DurationSecs int
	Name         string
	FlagTokens   []string
	BufferPages  int

	CgroupMap string
	MntnsMap  string

	ExecGiven bool
	ExecArgs  []string

	flagMask int32
}

// Validate checks every configuration rule that must fail before any
// instrumentation is installed.
func (c *Config) Validate() error {
	if c.ExecGiven {
		if c.PID >= 0 {
			return fmt.Errorf("can only use one of -p and --exec")
		}
		if len(c.ExecArgs) == 0 {
			return fmt.Errorf("--exec without command")
		}
	}
	for _, name := range []struct {
		v    int64
		flag string
	}{{c.PID, "-p"}, {c.TID, "-t"}, {c.UID, "-u"}} {
		if name.v != -1 && (name.v < 0 || name.v > math.MaxUint32) {
			return fmt.Errorf("%s: value %d out of range", name.flag, name.v)
		}
	}
	if c.DurationSecs < 0 {
		return fmt.Errorf("-d: duration must be positive")
	}
	if c.BufferPages <= 0 || c.BufferPages&(c.BufferPages-1) != 0 {
		return fmt.Errorf("-b: buffer pages must be a power of two, got %d", c.BufferPages)
	}
	mask, err := parseFlagTokens(c.FlagTokens)
	if err != nil {
		return err
	}
	c.flagMask = mask
	return nil
}

// parseFlagTokens ORs the named flag symbols into one mask.
func parseFlagTokens(tokens []string) (int32, error) {
	var mask int32
	for _, tok := range tokens {
		v, ok := openFlagSymbols[tok]
		if !ok {
			return 0, fmt.Errorf("bad flag: %s", tok)
		}
		mask |= v
	}
	return mask, nil
}

// Layout returns the session event layout: chosen once, never switched.
// Flags and mode ride along only when something will read them.
func (c *Config) Layout() Layout {
	return Layout{
		FullPath: c.FullPath,
		Extended: c.Extended || len(c.FlagTokens) > 0,
	}
}

// Duration returns the elapsed-time bound, or zero for unbounded.
func (c *Config) Duration() time.Duration {
	return time.Duration(c.DurationSecs) * time.Second
}

// Filters builds the immutable filter snapshot. filterContainer is the
// platform-supplied container membership predicate, nil when container
// filtering is off.
func (c *Config) Filters(filterContainer func(id uint64) bool) *FilterConfig {
	f := &FilterConfig{
		FailedOnly:      c.FailedOnly,
		FilterContainer: filterContainer,
	}
	if c.Name != "" {
		f.NameContains = []byte(c.Name)
	}
	if c.TID >= 0 {
		f.TID, f.HasTID = uint32(c.TID), true
	}
	if c.PID >= 0 {
		f.PID, f.HasPID = uint32(c.PID), true
	}
	if c.UID >= 0 {
		f.UID, f.HasUID = uint32(c.UID), true
	}
	if len(c.FlagTokens) > 0 {
		f.FlagMask, f.HasFlagMask = c.flagMask, true
	}
	return f
}

// ChannelCapacity derives the ring channel's record capacity from the buffer
// size in pages, matching the kernel ring buffer's backing size.
func (c *Config) ChannelCapacity() int {
	n := c.BufferPages * pageSize / c.Layout().Size()
	if n < 1 {
		n = 1
	}
	return n
}

const pageSize = 4096
