package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/joeycumines/go-kcore/kernel"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/pbnjay/memory"
)

func run(ctx context.Context, opts rootOptions, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := checkHeapSize(cfg.HeapSize, memory.TotalMemory()); err != nil {
		return err
	}

	logger := newLogger(stderr, cfg.Level())

	if f, ok := stdin.(*os.File); ok && !opts.headless && isTerminal(int(f.Fd())) {
		restore, err := makeRaw(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("kcore: raw terminal: %w", err)
		}
		defer restore()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	k, err := kernel.Boot(cfg, kernel.WithLogger(logger))
	if err != nil {
		return err
	}

	stream, err := k.Scancodes()
	if err != nil {
		return err
	}
	k.Spawn(k.Echo(stream, stdout, cancel))
	if opts.heartbeat > 0 {
		k.Spawn(k.Heartbeat(uint64(max(opts.heartbeat/time.Millisecond, 1))))
	}

	var wg sync.WaitGroup
	wg.Go(func() { tick(ctx, k, time.Duration(cfg.TickPeriod)) })
	// blocked reads cannot be interrupted, so this is not waited for
	go readKeys(ctx, k, stdin, logger)

	err = k.Run(ctx)
	k.Shutdown()
	cancel()
	wg.Wait()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func loadConfig(opts rootOptions) (cfg kernel.Config, err error) {
	if opts.configPath != `` {
		if cfg, err = kernel.LoadConfig(opts.configPath); err != nil {
			return
		}
	} else {
		cfg = kernel.DefaultConfig()
	}
	if opts.logLevel != `` {
		cfg.LogLevel = opts.logLevel
	}
	if opts.allocator != `` {
		cfg.Allocator = opts.allocator
	}
	err = cfg.Validate()
	return
}

// checkHeapSize rejects heaps larger than a quarter of physical memory. A
// total of zero means the size of physical memory is unknown.
func checkHeapSize(heapSize, totalMemory uint64) error {
	if totalMemory != 0 && heapSize > totalMemory/4 {
		return fmt.Errorf("kcore: heap of %d bytes exceeds a quarter of physical memory (%d bytes)", heapSize, totalMemory)
	}
	return nil
}

func newLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

// tick raises the timer interrupt every period until ctx is done.
func tick(ctx context.Context, k *kernel.Kernel, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.RaiseTimer()
		}
	}
}

// readKeys presses every byte read from r, until r fails or ctx is done.
// Presses are retried while the controller is full, so piped input is not
// lost.
func readKeys(ctx context.Context, k *kernel.Kernel, r io.Reader, logger *logiface.Logger[logiface.Event]) {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			for !k.PressKey(b) {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Millisecond)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Err().Err(err).Log(`kcore: read stdin`)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
