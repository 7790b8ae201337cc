package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sanonone/gatekv/internal/gate"
	"github.com/sanonone/gatekv/pkg/core"
	"github.com/sanonone/gatekv/pkg/engine"
	"github.com/sanonone/gatekv/pkg/persistence"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (defaults are used when empty)")
	location := flag.String("location", "", "Snapshot file path (overrides the config)")
	domain := flag.String("domain", "", "Concurrency domain: thread or process (overrides the config)")
	readers := flag.Int("readers", 0, "Reader capacity (overrides the config)")
	selfCheck := flag.Bool("selfcheck", true, "Run the set/get/delete check on every layer")
	loadFor := flag.Duration("load", 0, "Run a concurrent load for this long (0 disables)")
	loadReaders := flag.Int("load-readers", 20, "Concurrent reader goroutines during -load")
	loadWriters := flag.Int("load-writers", 2, "Concurrent writer goroutines during -load")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	opts, err := engine.LoadOptions(*configPath)
	if err != nil {
		slog.Error("Cannot load configuration", "error", err)
		os.Exit(1)
	}
	if *location != "" {
		opts.Location = *location
	}
	if *domain != "" {
		opts.Domain = engine.Domain(*domain)
	}
	if *readers > 0 {
		opts.ReaderCapacity = *readers
	}
	opts.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *selfCheck {
		if err := runSelfCheck(ctx, opts); err != nil {
			slog.Error("Self-check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Self-check passed")
	}

	if *loadFor > 0 {
		if err := runLoad(ctx, opts, *loadFor, *loadReaders, *loadWriters); err != nil {
			slog.Error("Load run failed", "error", err)
			os.Exit(1)
		}
	}
}

// runSelfCheck performs set(1,1), get, set(1,2), get, delete, get on the bare
// map, on the snapshot store and on the synchronized store in both domains.
func runSelfCheck(ctx context.Context, opts engine.Options) error {
	m := core.NewMap[int, int]()
	if err := checkLayer("map",
		func(k, v int) (bool, error) { return m.Set(k, v), nil },
		func(k int) (int, bool, error) { v, ok := m.Get(k); return v, ok, nil },
		func(k int) (int, bool, error) { v, ok := m.Delete(k); return v, ok, nil },
	); err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "gatekv-selfcheck-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	s := persistence.NewSnapshotStore[int, int](filepath.Join(dir, "store.db"), opts.Retry, opts.Logger)
	if err := checkLayer("snapshot-store",
		func(k, v int) (bool, error) { return s.Set(ctx, k, v) },
		func(k int) (int, bool, error) { return s.Get(ctx, k) },
		func(k int) (int, bool, error) { return s.Remove(ctx, k) },
	); err != nil {
		return err
	}

	for _, d := range []engine.Domain{engine.DomainThread, engine.DomainProcess} {
		o := opts
		o.Domain = d
		o.Location = filepath.Join(dir, string(d)+".db")
		c, err := engine.Open[int, int](o)
		if errors.Is(err, gate.ErrUnsupported) {
			slog.Warn("Skipping controller check", "domain", d, "reason", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("open %s controller: %w", d, err)
		}
		err = checkLayer("controller-"+string(d),
			func(k, v int) (bool, error) { return c.Set(ctx, k, v) },
			func(k int) (int, bool, error) {
				res, err := c.Get(ctx, k)
				if err == nil && res.Rejected() {
					err = errors.New("read rejected on an idle store")
				}
				return res.Value, res.Found(), err
			},
			func(k int) (int, bool, error) { return c.Delete(ctx, k) },
		)
		c.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func checkLayer(
	name string,
	set func(k, v int) (bool, error),
	get func(k int) (int, bool, error),
	del func(k int) (int, bool, error),
) error {
	fail := func(step string, args ...any) error {
		return fmt.Errorf("%s: %s", name, fmt.Sprintf(step, args...))
	}

	if ok, err := set(1, 1); err != nil || !ok {
		return fail("set(1, 1) = %v, %v", ok, err)
	}
	if v, ok, err := get(1); err != nil || !ok || v != 1 {
		return fail("get(1) = %v, %v, %v", v, ok, err)
	}
	if ok, err := set(1, 2); err != nil || ok {
		return fail("set(1, 2) = %v, %v", ok, err)
	}
	if v, _, err := get(1); err != nil || v != 1 {
		return fail("get(1) after duplicate set = %v, %v", v, err)
	}
	if v, ok, err := del(1); err != nil || !ok || v != 1 {
		return fail("delete(1) = %v, %v, %v", v, ok, err)
	}
	if _, ok, err := get(1); err != nil || ok {
		return fail("get(1) after delete found=%v, %v", ok, err)
	}
	slog.Info("Layer OK", "layer", name)
	return nil
}

// runLoad hammers one controller with readers and writers and reports how
// many reads were found, missed or rejected.
func runLoad(ctx context.Context, opts engine.Options, d time.Duration, readers, writers int) error {
	c, err := engine.Open[string, int](opts)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	var (
		wg                      sync.WaitGroup
		found, missed, rejected atomic.Int64
		inserted, deleted       atomic.Int64
		failures                atomic.Int64
	)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ctx.Err() == nil; i++ {
				key := fmt.Sprintf("w%d-%d", w, i%50)
				if i%3 == 2 {
					if _, ok, err := c.Delete(ctx, key); err == nil && ok {
						deleted.Add(1)
					} else if err != nil && ctx.Err() == nil {
						failures.Add(1)
					}
					continue
				}
				if ok, err := c.Set(ctx, key, i); err == nil && ok {
					inserted.Add(1)
				} else if err != nil && ctx.Err() == nil {
					failures.Add(1)
				}
			}
		}(w)
	}

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := 0; ctx.Err() == nil; i++ {
				res, err := c.Get(ctx, fmt.Sprintf("w%d-%d", r%max(writers, 1), i%50))
				switch {
				case err != nil:
					if ctx.Err() == nil {
						failures.Add(1)
					}
				case res.Rejected():
					rejected.Add(1)
				case res.Found():
					found.Add(1)
				default:
					missed.Add(1)
				}
			}
		}(r)
	}

	wg.Wait()

	slog.Info("Load run finished",
		"duration", d,
		"domain", opts.Domain,
		"reader_capacity", opts.ReaderCapacity,
		"reads_found", found.Load(),
		"reads_not_found", missed.Load(),
		"reads_rejected", rejected.Load(),
		"inserts", inserted.Load(),
		"deletes", deleted.Load(),
		"failures", failures.Load(),
	)
	if failures.Load() > 0 {
		return fmt.Errorf("%d operations failed", failures.Load())
	}
	return nil
}
