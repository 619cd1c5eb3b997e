package main

import (
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func validConfig() *Config {
	return &Config{PID: -1, TID: -1, UID: -1, BufferPages: 64}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name: "pid and exec conflict",
			mutate: func(c *Config) {
				c.PID = 100
				c.ExecGiven = true
				c.ExecArgs = []string{"ls"}
			},
			wantErr: "can only use one of -p and --exec",
		},
		{
			name: "exec without command",
			mutate: func(c *Config) {
				c.ExecGiven = true
			},
			wantErr: "--exec without command",
		},
		{
			name:    "pid out of range",
			mutate:  func(c *Config) { c.PID = 1 << 33 },
			wantErr: "-p: value",
		},
		{
			name:    "negative duration",
			mutate:  func(c *Config) { c.DurationSecs = -1 },
			wantErr: "-d: duration",
		},
		{
			name:    "buffer pages not a power of two",
			mutate:  func(c *Config) { c.BufferPages = 63 },
			wantErr: "-b: buffer pages",
		},
		{
			name:    "zero buffer pages",
			mutate:  func(c *Config) { c.BufferPages = 0 },
			wantErr: "-b: buffer pages",
		},
		{
			name:    "unknown flag token",
			mutate:  func(c *Config) { c.FlagTokens = []string{"O_BOGUS"} },
			wantErr: "bad flag: O_BOGUS",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseFlagTokens(t *testing.T) {
	mask, err := parseFlagTokens([]string{"O_WRONLY", "O_CREAT"})
	if err != nil {
		t.Fatal(err)
	}
	if mask != unix.O_WRONLY|unix.O_CREAT {
		t.Errorf("mask = %#o, want %#o", mask, unix.O_WRONLY|unix.O_CREAT)
	}

	// O_RDONLY is zero, so alone it builds an empty mask that matches no
	// flag bits at all. Accepted, matching the flag table.
	mask, err = parseFlagTokens([]string{"O_RDONLY"})
	if err != nil {
		t.Fatal(err)
	}
	if mask != 0 {
		t.Errorf("mask = %#o, want 0", mask)
	}
}

func TestConfigLayout(t *testing.T) {
	cfg := validConfig()
	if l := cfg.Layout(); l.Extended || l.FullPath {
		t.Errorf("default layout = %+v, want compact", l)
	}

	cfg.FlagTokens = []string{"O_WRONLY"}
	if !cfg.Layout().Extended {
		t.Error("flag filtering should force the extended layout")
	}

	cfg = validConfig()
	cfg.Extended = true
	cfg.FullPath = true
	l := cfg.Layout()
	if !l.Extended || !l.FullPath {
		t.Errorf("layout = %+v, want extended full-path", l)
	}
}

func TestConfigFilters(t *testing.T) {
	cfg := validConfig()
	cfg.TID = 7
	cfg.UID = 1000
	cfg.Name = "sh"
	cfg.FailedOnly = true
	cfg.FlagTokens = []string{"O_CREAT"}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	f := cfg.Filters(nil)
	if !f.HasTID || f.TID != 7 {
		t.Errorf("TID filter = %v/%d", f.HasTID, f.TID)
	}
	if f.HasPID {
		t.Error("PID filter set without -p")
	}
	if !f.HasUID || f.UID != 1000 {
		t.Errorf("UID filter = %v/%d", f.HasUID, f.UID)
	}
	if !f.HasFlagMask || f.FlagMask != unix.O_CREAT {
		t.Errorf("flag mask = %v/%#o", f.HasFlagMask, f.FlagMask)
	}
	if string(f.NameContains) != "sh" || !f.FailedOnly {
		t.Errorf("late filters = %q/%v", f.NameContains, f.FailedOnly)
	}
}

func TestConfigChannelCapacity(t *testing.T) {
	cfg := validConfig()
	want := 64 * pageSize / cfg.Layout().Size()
	if got := cfg.ChannelCapacity(); got != want {
		t.Errorf("ChannelCapacity() = %d, want %d", got, want)
	}

	// The full-path layout is large enough that a tiny buffer still yields
	// at least one slot.
	cfg.BufferPages = 1
	cfg.FullPath = true
	if got := cfg.ChannelCapacity(); got < 1 {
		t.Errorf("ChannelCapacity() = %d, want >= 1", got)
	}
}

func TestRootCommandFlagParsing(t *testing.T) {
	cfg := &Config{}
	cmd := newRootCommand(cfg)
	err := cmd.ParseFlags([]string{
		"-T", "-U", "-x", "-p", "181", "-d", "10",
		"-n", "main", "-e", "-f", "O_WRONLY", "-f", "O_RDWR", "-F", "-b", "128",
	})
	if err != nil {
		t.Fatal(err)
	}

	if !cfg.Timestamp || !cfg.PrintUID || !cfg.FailedOnly || !cfg.Extended || !cfg.FullPath {
		t.Errorf("bool flags not wired: %+v", cfg)
	}
	if cfg.PID != 181 || cfg.DurationSecs != 10 || cfg.Name != "main" || cfg.BufferPages != 128 {
		t.Errorf("value flags not wired: %+v", cfg)
	}
	if len(cfg.FlagTokens) != 2 || cfg.FlagTokens[0] != "O_WRONLY" || cfg.FlagTokens[1] != "O_RDWR" {
		t.Errorf("FlagTokens = %v", cfg.FlagTokens)
	}
	if cfg.TID != -1 || cfg.UID != -1 {
		t.Errorf("unset id filters = %d/%d, want -1/-1", cfg.TID, cfg.UID)
	}
}
