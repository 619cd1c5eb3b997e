package main

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"
	"github.com/cilium/ebpf/features"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/sirupsen/logrus"
)

// bpfObjectPath is the compiled BPF program, built by the Makefile.
const bpfObjectPath = "bpf/opensnoop.bpf.o"

// Raw observation records emitted by the BPF programs. Layouts are packed
// and shared with bpf/opensnoop.bpf.c.
const (
	rawKindEnter    = 0
	rawKindExit     = 1
	rawKindCombined = 2

	rawEnterLen    = 40 + NameMax
	rawExitLen     = 28
	rawCombinedLen = 52 + NameMax
)

// RealTraceProvider backs the platform layer with eBPF: tracepoint pairs for
// the split strategy, fexit programs for the combined one, and a kernel ring
// buffer carrying raw observations into the engine.
type RealTraceProvider struct {
	cfg           *Config
	spec          *ebpf.CollectionSpec
	kernelBTF     *btf.Spec
	syscallPrefix string
	combinedOK    bool

	replacements map[string]*ebpf.Map
	coll         *ebpf.Collection
	links        []link.Link
	reader       *ringbuf.Reader
	done         chan struct{}
}

// NewRealTraceProvider loads the BPF collection spec and probes kernel
// capabilities. Nothing is installed until Attach.
func NewRealTraceProvider(cfg *Config) (*RealTraceProvider, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("remove memlock: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpec(bpfObjectPath)
	if err != nil {
		return nil, fmt.Errorf("load collection spec: %w", err)
	}

	p := &RealTraceProvider{
		cfg:          cfg,
		spec:         spec,
		replacements: make(map[string]*ebpf.Map),
		done:         make(chan struct{}),
	}

	p.kernelBTF, err = btf.LoadKernelSpec()
	if err != nil {
		logrus.WithError(err).Debug("kernel BTF unavailable; combined capture and openat2 disabled")
		p.kernelBTF = nil
	}
	p.syscallPrefix = p.detectSyscallPrefix()
	p.combinedOK = p.kernelBTF != nil && features.HaveProgramType(ebpf.Tracing) == nil

	if err := p.configure(); err != nil {
		p.closePinned()
		return nil, err
	}
	return p, nil
}

// configure pushes the startup filter snapshot and buffer sizing into the
// collection spec, so the kernel side rejects filtered calls before any
// record is produced.
func (p *RealTraceProvider) configure() error {
	consts := map[string]uint32{
		"target_tid":    unset32(p.cfg.TID),
		"target_pid":    unset32(p.cfg.PID),
		"target_uid":    unset32(p.cfg.UID),
		"flag_mask":     uint32(p.cfg.flagMask),
		"filter_cgroup": 0,
		"filter_mntns":  0,
	}
	if p.cfg.CgroupMap != "" {
		m, err := ebpf.LoadPinnedMap(p.cfg.CgroupMap, nil)
		if err != nil {
			return fmt.Errorf("load pinned cgroup map %s: %w", p.cfg.CgroupMap, err)
		}
		p.replacements["cgroup_set"] = m
		consts["filter_cgroup"] = 1
	}
	if p.cfg.MntnsMap != "" {
		m, err := ebpf.LoadPinnedMap(p.cfg.MntnsMap, nil)
		if err != nil {
			return fmt.Errorf("load pinned mntns map %s: %w", p.cfg.MntnsMap, err)
		}
		p.replacements["mntns_set"] = m
		consts["filter_mntns"] = 1
	}
	for name, val := range consts {
		v, ok := p.spec.Variables[name]
		if !ok {
			return fmt.Errorf("bpf object has no %q variable", name)
		}
		if err := v.Set(val); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	events, ok := p.spec.Maps["events"]
	if !ok {
		return fmt.Errorf("bpf object has no events map")
	}
	events.MaxEntries = uint32(p.cfg.BufferPages * pageSize)
	return nil
}

// unset32 encodes an optional filter value for the kernel side, where
// 0xffffffff means "no filter".
func unset32(v int64) uint32 {
	if v < 0 {
		return 0xffffffff
	}
	return uint32(v)
}

// detectSyscallPrefix finds the arch-specific syscall wrapper prefix by
// looking the base variant up in kernel BTF.
func (p *RealTraceProvider) detectSyscallPrefix() string {
	if p.kernelBTF == nil {
		return ""
	}
	for _, prefix := range []string{"__x64_sys_", "__arm64_sys_", "__s390x_sys_", "sys_"} {
		var fn *btf.Func
		if err := p.kernelBTF.TypeByName(prefix+"open", &fn); err == nil {
			return prefix
		}
	}
	return ""
}

// SupportsVariant reports kernel support. open and openat are always present;
// openat2 only on kernels that expose it.
func (p *RealTraceProvider) SupportsVariant(v Variant) bool {
	if v != VariantOpenat2 {
		return true
	}
	if p.kernelBTF == nil || p.syscallPrefix == "" {
		return false
	}
	var fn *btf.Func
	return p.kernelBTF.TypeByName(p.syscallPrefix+"openat2", &fn) == nil
}

// SupportsCombined reports whether fexit-style programs can observe the
// variant's arguments and outcome atomically.
func (p *RealTraceProvider) SupportsCombined(v Variant) bool {
	return p.combinedOK && p.syscallPrefix != "" && p.SupportsVariant(v)
}

func combinedProgName(v Variant) string { return "fexit_" + v.String() }
func enterProgName(v Variant) string    { return "enter_" + v.String() }
func exitProgName(v Variant) string     { return "exit_" + v.String() }

// Attach strips unplanned programs from the spec, loads the collection,
// installs one capture point per combined variant or a pair per split
// variant, and starts routing raw observations into engine. Any failure
// detaches everything already installed.
func (p *RealTraceProvider) Attach(plan AttachPlan, engine *Engine) error {
	wanted := make(map[string]bool)
	for v, s := range plan {
		if s == StrategyCombined {
			name := combinedProgName(v)
			prog, ok := p.spec.Programs[name]
			if !ok {
				return fmt.Errorf("bpf object has no %q program", name)
			}
			// The object is compiled against x86-64 wrapper names; re-target
			// for the running architecture.
			prog.AttachTo = p.syscallPrefix + v.String()
			wanted[name] = true
		} else {
			for _, name := range []string{enterProgName(v), exitProgName(v)} {
				if _, ok := p.spec.Programs[name]; !ok {
					return fmt.Errorf("bpf object has no %q program", name)
				}
				wanted[name] = true
			}
		}
	}
	for name := range p.spec.Programs {
		if !wanted[name] {
			delete(p.spec.Programs, name)
		}
	}

	coll, err := ebpf.NewCollectionWithOptions(p.spec, ebpf.CollectionOptions{
		MapReplacements: p.replacements,
	})
	if err != nil {
		return fmt.Errorf("load bpf collection: %w", err)
	}
	p.coll = coll

	for v, s := range plan {
		if err := p.attachVariant(v, s); err != nil {
			p.Close()
			return err
		}
		logrus.WithFields(logrus.Fields{"variant": v.String(), "strategy": s.String()}).
			Debug("capture points armed")
	}

	p.reader, err = ringbuf.NewReader(coll.Maps["events"])
	if err != nil {
		p.Close()
		return fmt.Errorf("open ring buffer: %w", err)
	}
	go p.readLoop(engine)
	return nil
}

func (p *RealTraceProvider) attachVariant(v Variant, s Strategy) error {
	if s == StrategyCombined {
		l, err := link.AttachTracing(link.TracingOptions{
			Program: p.coll.Programs[combinedProgName(v)],
		})
		if err != nil {
			return fmt.Errorf("attach fexit %s: %w", v, err)
		}
		p.links = append(p.links, l)
		return nil
	}
	enter, err := link.Tracepoint("syscalls", "sys_enter_"+v.String(), p.coll.Programs[enterProgName(v)], nil)
	if err != nil {
		return fmt.Errorf("attach sys_enter_%s: %w", v, err)
	}
	p.links = append(p.links, enter)
	exit, err := link.Tracepoint("syscalls", "sys_exit_"+v.String(), p.coll.Programs[exitProgName(v)], nil)
	if err != nil {
		return fmt.Errorf("attach sys_exit_%s: %w", v, err)
	}
	p.links = append(p.links, exit)
	return nil
}

// readLoop is the single bridge between the kernel ring buffer and the
// engine's capture handlers.
func (p *RealTraceProvider) readLoop(engine *Engine) {
	defer close(p.done)
	for {
		record, err := p.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return
			}
			logrus.WithError(err).Warn("reading from ring buffer")
			continue
		}
		p.dispatch(engine, record.RawSample)
	}
}

func (p *RealTraceProvider) dispatch(engine *Engine, raw []byte) {
	if len(raw) == 0 {
		return
	}
	switch raw[0] {
	case rawKindEnter:
		if len(raw) < rawEnterLen {
			return
		}
		engine.HandleStart(decodeRawEnter(raw))
	case rawKindExit:
		if len(raw) < rawExitLen {
			return
		}
		engine.HandleOutcome(p.outcome(raw))
	case rawKindCombined:
		if len(raw) < rawCombinedLen {
			return
		}
		start, outcome := decodeRawCombined(raw)
		outcome.Cwd = p.walker(start)
		engine.HandleCombined(start, outcome)
	default:
		logrus.WithField("kind", raw[0]).Warn("unknown raw record kind")
	}
}

func (p *RealTraceProvider) outcome(raw []byte) CallOutcome {
	o := CallOutcome{
		UID:       binary.LittleEndian.Uint32(raw[4:]),
		ID:        binary.LittleEndian.Uint64(raw[8:]),
		Timestamp: binary.LittleEndian.Uint64(raw[16:]),
		Ret:       int32(binary.LittleEndian.Uint32(raw[24:])),
	}
	if p.cfg.FullPath {
		o.Cwd = newProcWalker(uint32(o.ID))
	}
	return o
}

// walker returns a working-directory walker for relative filenames in
// full-path mode, nil otherwise.
func (p *RealTraceProvider) walker(c CallStart) DirWalker {
	if !p.cfg.FullPath || len(c.Filename) == 0 || c.Filename[0] == '/' {
		return nil
	}
	return newProcWalker(uint32(c.ID))
}

func decodeRawEnter(raw []byte) CallStart {
	c := CallStart{
		UID:   binary.LittleEndian.Uint32(raw[4:]),
		ID:    binary.LittleEndian.Uint64(raw[8:]),
		Flags: int32(binary.LittleEndian.Uint32(raw[16:])),
		Mode:  binary.LittleEndian.Uint32(raw[20:]),
	}
	copy(c.Comm[:], raw[24:40])
	c.Filename = cloneName(raw[40 : 40+NameMax])
	return c
}

func decodeRawCombined(raw []byte) (CallStart, CallOutcome) {
	c := CallStart{
		UID:   binary.LittleEndian.Uint32(raw[4:]),
		ID:    binary.LittleEndian.Uint64(raw[8:]),
		Flags: int32(binary.LittleEndian.Uint32(raw[28:])),
		Mode:  binary.LittleEndian.Uint32(raw[32:]),
	}
	copy(c.Comm[:], raw[36:52])
	c.Filename = cloneName(raw[52 : 52+NameMax])
	o := CallOutcome{
		UID:       c.UID,
		ID:        c.ID,
		Timestamp: binary.LittleEndian.Uint64(raw[16:]),
		Ret:       int32(binary.LittleEndian.Uint32(raw[24:])),
	}
	return c, o
}

// cloneName copies a NUL-terminated name field out of a reusable buffer.
func cloneName(b []byte) []byte {
	return append([]byte(nil), []byte(cstring(b))...)
}

func (p *RealTraceProvider) closePinned() {
	for _, m := range p.replacements {
		m.Close()
	}
}

// Close detaches every capture point and drains down the reader.
func (p *RealTraceProvider) Close() error {
	var errs []error
	if p.reader != nil {
		if err := p.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reader: %w", err))
		}
		<-p.done
		p.reader = nil
	}
	for _, l := range p.links {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close link: %w", err))
		}
	}
	p.links = nil
	if p.coll != nil {
		p.coll.Close()
		p.coll = nil
	}
	p.closePinned()
	if len(errs) > 0 {
		return fmt.Errorf("errors closing provider: %v", errs)
	}
	return nil
}
