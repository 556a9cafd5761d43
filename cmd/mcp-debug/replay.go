package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// scriptCall is one line of a replay script: a JSON object naming the method
// and optionally carrying params.
type scriptCall struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// runReplay plays a script of calls against the server, one session per run.
// With -watch it re-plays the script whenever the file changes, which makes a
// tight edit-save-observe loop when exploring a server's behavior.
func runReplay(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	cfg := loadConfig(fs)
	file := fs.String("file", "", "script file: one {\"method\": ..., \"params\": ...} per line (required)")
	watch := fs.Bool("watch", false, "re-play the script when the file changes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("replay requires -file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := cfg.logger()
	if !*watch {
		return replayFile(ctx, cfg, log, *file)
	}
	return watchAndReplay(ctx, cfg, log, *file)
}

// replayFile dials a fresh session and plays every call in the script against
// it. Sessions are single-use, so each run gets its own.
func replayFile(ctx context.Context, cfg *config, log *slog.Logger, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sess, err := cfg.connect(ctx, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.WaitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprintf(os.Stderr, "warning: handshake failed, replaying anyway: %v\n", err)
	}

	var okCount, failCount, skipCount int
	lineNo := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var call scriptCall
		if err := json.Unmarshal([]byte(line), &call); err != nil || call.Method == "" {
			skipCount++
			fmt.Printf("%3d SKIP  line %d is not a call object\n", okCount+failCount+skipCount, lineNo)
			continue
		}

		var params any
		if len(call.Params) > 0 {
			params = call.Params
		}

		start := time.Now()
		_, err := sess.Call(ctx, call.Method, params)
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failCount++
			fmt.Printf("%3d FAIL  %-28s %8s %v\n", okCount+failCount+skipCount, call.Method, elapsed, err)
			continue
		}
		okCount++
		fmt.Printf("%3d OK    %-28s %8s\n", okCount+failCount+skipCount, call.Method, elapsed)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	fmt.Printf("replayed %d calls: %d ok, %d failed, %d skipped\n",
		okCount+failCount+skipCount, okCount, failCount, skipCount)
	if failCount > 0 {
		return fmt.Errorf("%d calls failed", failCount)
	}
	return nil
}

// watchAndReplay plays the script once, then again after every change to it.
// The watch is on the parent directory because editors typically replace the
// file on save, which would drop a watch on the file itself.
func watchAndReplay(ctx context.Context, cfg *config, log *slog.Logger, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	defer func() {
		// Best-effort watcher close; no actionable error handling path.
		_ = w.Close()
	}()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	fmt.Printf("%s watching   %s\n", stamp(), path)
	runOnce := func() {
		if err := replayFile(ctx, cfg, log, path); err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		}
	}
	runOnce()

	// Saves often arrive as a burst of events; coalesce them before re-running.
	var rerun <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			evAbs, err := filepath.Abs(ev.Name)
			if err != nil || evAbs != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			rerun = time.After(200 * time.Millisecond)
		case <-rerun:
			rerun = nil
			fmt.Printf("%s changed    %s\n", stamp(), path)
			runOnce()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", slog.String("err", err.Error()))
		}
	}
}
