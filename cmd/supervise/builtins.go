package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jrepp/prism-supervisor/pkg/manifest"
	"github.com/jrepp/prism-supervisor/pkg/worker"
)

// builtins are the in-binary workers a manifest may name instead of a command
var builtins = manifest.Builtins{
	"heartbeat": heartbeat,
	"crash":     crash,
	"sleep":     sleep,
}

// heartbeat logs every interval until stopped
func heartbeat(args map[string]string) (worker.Worker, error) {
	interval, err := durationArg(args, "interval", time.Second)
	if err != nil {
		return nil, err
	}
	return worker.Func(func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for beat := 1; ; beat++ {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				slog.Info("heartbeat", "pid", os.Getpid(), "beat", beat)
			}
		}
	}), nil
}

// crash fails after a delay
func crash(args map[string]string) (worker.Worker, error) {
	after, err := durationArg(args, "after", time.Second)
	if err != nil {
		return nil, err
	}
	return worker.Func(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(after):
			return fmt.Errorf("crashed after %s", after)
		}
	}), nil
}

// sleep completes normally after a delay
func sleep(args map[string]string) (worker.Worker, error) {
	d, err := durationArg(args, "duration", time.Second)
	if err != nil {
		return nil, err
	}
	return worker.Func(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
		case <-time.After(d):
		}
		return nil
	}), nil
}

func durationArg(args map[string]string, key string, def time.Duration) (time.Duration, error) {
	v, ok := args[key]
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, v)
	}
	return d, nil
}
