// Command atomicosd runs the AtomicOS kernel core against the simulated
// platform: it boots the timer at the configured rate, then drives the
// timer-tick and console-drain loops until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/pbnjay/memory"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/ipenas-cl/AtomicOS/internal/bootconfig"
	"github.com/ipenas-cl/AtomicOS/internal/kernel"
	"github.com/ipenas-cl/AtomicOS/internal/klog"
	"github.com/ipenas-cl/AtomicOS/internal/platform"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a TOML boot configuration (optional)")
		crashDir   = flag.String("crash-dir", "crash", "directory fatal-exception dumps are persisted to")
		jsonLogs   = flag.Bool("json-logs", false, "emit structured JSON logs via zerolog instead of the plain bootstrap logger")
	)
	flag.Parse()

	if err := run(*configPath, *crashDir, *jsonLogs); err != nil {
		fmt.Fprintln(os.Stderr, "atomicosd:", err)
		os.Exit(1)
	}
}

func run(configPath, crashDir string, jsonLogs bool) error {
	logger := bootLogger(jsonLogs)

	// A real port has no SMP; clamp GOMAXPROCS to 1 to make that non-goal
	// explicit even though automaxprocs detects the host's container quota
	// first (spec §9 Non-goals: no SMP).
	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		klog.Debug(logger, "boot", fmt.Sprintf(format, args...), nil)
	}))
	if err != nil {
		klog.Warn(logger, "boot", "automaxprocs detection failed, continuing with runtime default", map[string]any{"err": err.Error()})
	} else {
		defer undo()
	}
	runtime.GOMAXPROCS(1)

	if err := enforceMemoryBudget(logger); err != nil {
		return err
	}

	cfg := bootconfig.Default()
	if configPath != "" {
		cfg, err = bootconfig.Load(configPath)
		if err != nil {
			return fmt.Errorf("load boot config: %w", err)
		}
	}

	if err := os.MkdirAll(crashDir, 0o755); err != nil {
		return fmt.Errorf("create crash dir: %w", err)
	}

	plat := platform.NewSimulated()
	k := kernel.New(cfg, plat, crashDir, logger)
	k.Boot()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return timerLoop(gctx, k, cfg) })
	g.Go(func() error { return consoleDrain(gctx, plat) })

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	klog.Info(logger, "boot", "atomicosd shut down cleanly", nil)
	return nil
}

// bootLogger builds the structured logging backend: the dependency-free
// Bootstrap logger by default, or Zerolog when JSON output is requested.
func bootLogger(jsonLogs bool) klog.Logger {
	if jsonLogs {
		return klog.NewZerolog(os.Stdout, klog.LevelInfo)
	}
	return klog.NewBootstrap(os.Stderr, klog.LevelInfo)
}

// enforceMemoryBudget sets GOMEMLIMIT from the host's available memory and
// refuses to boot if the host cannot offer a sane minimum: the kernel core
// promises no dynamic allocation at steady state, but Go's own runtime still
// needs headroom, and a starved host would silently violate the determinism
// guarantee instead of failing loudly at boot.
func enforceMemoryBudget(logger klog.Logger) error {
	const minBootMemory = 32 * 1024 * 1024

	total := memory.TotalMemory()
	if total != 0 && total < minBootMemory {
		return fmt.Errorf("insufficient host memory: have %d bytes, need at least %d", total, minBootMemory)
	}

	limit, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.8),
		memlimit.WithProvider(memlimit.FromSystem),
	)
	if err != nil {
		klog.Warn(logger, "boot", "GOMEMLIMIT not set, continuing without a soft memory ceiling", map[string]any{"err": err.Error()})
		return nil
	}
	klog.Info(logger, "boot", "memory budget enforced", map[string]any{"gomemlimit": limit, "host_total": total})
	return nil
}

// timerLoop simulates the hardware timer by ticking the kernel at the
// configured rate until ctx is cancelled.
func timerLoop(ctx context.Context, k *kernel.KernelState, cfg bootconfig.Config) error {
	period := time.Second / time.Duration(cfg.TimerHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			k.Tick()
		}
	}
}

// consoleDrain periodically flushes the simulated console to stdout. A real
// port drains the console synchronously inside ConsoleWrite; the simulator
// batches instead, to keep the hot timer path free of real stdout I/O
// latency.
func consoleDrain(ctx context.Context, plat *platform.Simulated) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var last int
	for {
		select {
		case <-ctx.Done():
			snap := plat.ConsoleSnapshot()
			if len(snap) > last {
				os.Stdout.Write(snap[last:])
			}
			return nil
		case <-ticker.C:
			snap := plat.ConsoleSnapshot()
			if len(snap) > last {
				os.Stdout.Write(snap[last:])
				last = len(snap)
			}
		}
	}
}
