package main

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Renderer formats decoded events as output rows. Columns are fixed-width
// and only present when requested; the TID column replaces PID exactly when
// thread-id filtering was configured.
type Renderer struct {
	out      io.Writer
	layout   Layout
	showTime bool
	showUID  bool
	showTID  bool
	showExt  bool

	baseline    uint64
	hasBaseline bool
}

// NewRenderer creates a renderer writing rows to out. showExt controls the
// FLAGS/MODE columns independently of the layout: flag filtering widens the
// record without widening the output.
func NewRenderer(out io.Writer, layout Layout, showTime, showUID, showTID, showExt bool) *Renderer {
	return &Renderer{out: out, layout: layout, showTime: showTime, showUID: showUID, showTID: showTID, showExt: showExt}
}

// Header writes the column header row once, before any events.
func (r *Renderer) Header() {
	if r.showTime {
		fmt.Fprintf(r.out, "%-14s", "TIME(s)")
	}
	if r.showUID {
		fmt.Fprintf(r.out, "%-6s", "UID")
	}
	idCol := "PID"
	if r.showTID {
		idCol = "TID"
	}
	fmt.Fprintf(r.out, "%-6s %-16s %4s %3s ", idCol, "COMM", "FD", "ERR")
	if r.showExt {
		fmt.Fprintf(r.out, "%-8s %-4s ", "FLAGS", "MODE")
	}
	fmt.Fprintln(r.out, "PATH")
}

// Observe fixes the timestamp baseline on the first decoded event, whether
// or not that event survives the late filters.
func (r *Renderer) Observe(ev *OpenEvent) {
	if !r.hasBaseline {
		r.baseline = ev.Timestamp
		r.hasBaseline = true
	}
}

// Row writes one event. The return value splits into the FD column (the
// descriptor, or -1 on failure) and the ERR column (0 on success, else the
// negated return value).
func (r *Renderer) Row(ev *OpenEvent) {
	fd, errno := int32(-1), -ev.Ret
	if ev.Ret >= 0 {
		fd, errno = ev.Ret, 0
	}
	if r.showTime {
		fmt.Fprintf(r.out, "%-14.9f", float64(ev.Timestamp-r.baseline)/1e6)
	}
	if r.showUID {
		fmt.Fprintf(r.out, "%-6d", ev.UID)
	}
	id := ev.PID()
	if r.showTID {
		id = ev.TID()
	}
	fmt.Fprintf(r.out, "%-6d %-16s %4d %3d ", id, ev.CommString(), fd, errno)
	if r.showExt {
		// open(2): mode is meaningful only with O_CREAT or O_TMPFILE.
		if ev.Mode == 0 && ev.Flags&unix.O_CREAT == 0 && ev.Flags&unix.O_TMPFILE != unix.O_TMPFILE {
			fmt.Fprintf(r.out, "%08o n/a  ", ev.Flags)
		} else {
			fmt.Fprintf(r.out, "%08o %04o ", ev.Flags, ev.Mode)
		}
	}
	fmt.Fprintln(r.out, renderPath(r.layout, ev.Name, ev.Depth))
}

// Consumer is the single cooperative loop draining the ring channel. Each
// iteration drains every available record, decodes it, applies the late
// filters, and renders survivors; between drains it waits for new data or
// cancellation.
type Consumer struct {
	events   <-chan []byte
	layout   Layout
	filters  *FilterConfig
	renderer *Renderer
}

// NewConsumer wires a consumer to the engine's channel.
func NewConsumer(events <-chan []byte, layout Layout, filters *FilterConfig, r *Renderer) *Consumer {
	return &Consumer{events: events, layout: layout, filters: filters, renderer: r}
}

// Run drains events until ctx is cancelled. Rendering one event never yields
// mid-record.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-c.events:
			c.consume(raw)
			c.drain()
		}
	}
}

// drain consumes every record already queued without blocking.
func (c *Consumer) drain() {
	for {
		select {
		case raw := <-c.events:
			c.consume(raw)
		default:
			return
		}
	}
}

func (c *Consumer) consume(raw []byte) {
	ev, err := c.layout.Decode(raw)
	if err != nil {
		logrus.WithError(err).Warn("dropping undecodable event record")
		return
	}
	c.renderer.Observe(ev)
	if !c.filters.lateAllow(ev) {
		return
	}
	c.renderer.Row(ev)
}
