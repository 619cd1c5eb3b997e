package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == tracedExecArg {
		if err := runTracedStub(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "traced exec stub: %v\n", err)
			os.Exit(127)
		}
		return
	}

	cfg := &Config{}
	// The launch command is everything after --exec, taken verbatim so the
	// target's own flags never collide with ours.
	args := os.Args[1:]
	for i, a := range args {
		if a == "--exec" {
			cfg.ExecGiven = true
			cfg.ExecArgs = args[i+1:]
			args = args[:i]
			break
		}
	}

	cmd := newRootCommand(cfg)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "opensnoop",
		Short: "Trace open() syscalls",
		Long: `Trace open-family syscalls system-wide or for a filtered subset of
processes, printing one line per attempt with who made it, what path was
requested, and whether it succeeded.`,
		Example: `  opensnoop                        # trace all open() syscalls
  opensnoop -T                     # include timestamps
  opensnoop -U                     # include UID
  opensnoop -x                     # only show failed opens
  opensnoop -p 181                 # only trace PID 181
  opensnoop -t 123                 # only trace TID 123
  opensnoop -u 1000                # only trace UID 1000
  opensnoop -d 10                  # trace for 10 seconds only
  opensnoop -n main                # only print process names containing "main"
  opensnoop -e                     # show extended fields
  opensnoop -f O_WRONLY -f O_RDWR  # only print calls for writing
  opensnoop -F                     # show full path for an open file with relative path
  opensnoop --exec ls -l /tmp      # launch and trace this command`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			logrus.SetOutput(os.Stderr)
			if cfg.Verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return run(cfg)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&cfg.Timestamp, "timestamp", "T", false, "include timestamp on output")
	f.BoolVarP(&cfg.PrintUID, "print-uid", "U", false, "print UID column")
	f.BoolVarP(&cfg.FailedOnly, "failed", "x", false, "only show failed opens")
	f.Int64VarP(&cfg.PID, "pid", "p", -1, "trace this PID only")
	f.Int64VarP(&cfg.TID, "tid", "t", -1, "trace this TID only")
	f.Int64VarP(&cfg.UID, "uid", "u", -1, "trace this UID only")
	f.IntVarP(&cfg.DurationSecs, "duration", "d", 0, "total duration of trace in seconds")
	f.StringVarP(&cfg.Name, "name", "n", "", "only print process names containing this name")
	f.BoolVarP(&cfg.Extended, "extended-fields", "e", false, "show extended fields")
	f.StringArrayVarP(&cfg.FlagTokens, "flag-filter", "f", nil, "filter on flags argument (e.g., O_WRONLY)")
	f.BoolVarP(&cfg.FullPath, "full-path", "F", false, "show full path for an open file with relative path")
	f.IntVarP(&cfg.BufferPages, "buffer-pages", "b", 64, "size of the ring buffer (power of two pages)")
	f.StringVar(&cfg.CgroupMap, "cgroupmap", "", "trace cgroups in this BPF map only")
	f.StringVar(&cfg.MntnsMap, "mntnsmap", "", "trace mount namespaces in this BPF map only")
	f.BoolVar(&cfg.Verbose, "verbose", false, "verbose diagnostic output")
	return cmd
}

func run(cfg *Config) error {
	var child *TracedChild
	if cfg.ExecGiven {
		var err error
		child, err = LaunchStopped(cfg.ExecArgs)
		if err != nil {
			return err
		}
		// The stub's PID survives the exec, so filter on it like -p.
		cfg.PID = int64(child.PID())
	}

	layout := cfg.Layout()
	filters := cfg.Filters(nil) // container filtering runs in the kernel
	engine := NewEngine(layout, filters, defaultStoreCap, cfg.ChannelCapacity())

	provider, err := NewRealTraceProvider(cfg)
	if err != nil {
		if child != nil {
			child.Kill()
		}
		return err
	}
	defer provider.Close()

	plan := SelectStrategies(provider)
	if err := provider.Attach(plan, engine); err != nil {
		if child != nil {
			child.Kill()
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := cfg.Duration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if child != nil {
		if err := child.Proceed(); err != nil {
			child.Kill()
			return err
		}
	}

	renderer := NewRenderer(os.Stdout, layout, cfg.Timestamp, cfg.PrintUID, cfg.TID >= 0, cfg.Extended)
	renderer.Header()
	consumer := NewConsumer(engine.Events(), layout, filters, renderer)

	if child != nil {
		// Child exit ends the trace; the trace ending does not reap the
		// child, matching a plain -p run against a live process.
		go func() {
			_ = child.Wait()
			cancel()
		}()
	}

	g := &errgroup.Group{}
	g.Go(func() error {
		err := consumer.Run(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})
	err = g.Wait()

	logrus.WithFields(logrus.Fields{
		"lost":   engine.Lost(),
		"misses": engine.Misses(),
	}).Debug("capture loss counters")
	return err
}
