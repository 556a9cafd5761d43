package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mcpclient "github.com/ggoodman/mcp-client-go"
)

// runMonitor connects and prints session traffic until interrupted: lifecycle
// transitions and notifications on stdout, the session's own structured logs
// on stderr (-v includes per-event debug detail such as stream pings).
func runMonitor(args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	cfg := loadConfig(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := cfg.logger()
	sess, err := cfg.connect(ctx, log,
		mcpclient.WithStateHandler(func(st mcpclient.SessionState) {
			fmt.Printf("%s state      %s\n", stamp(), st)
		}),
		mcpclient.WithNotificationHandler(func(method string, params json.RawMessage) {
			if len(params) > 0 {
				fmt.Printf("%s notify     %s %s\n", stamp(), method, params)
				return
			}
			fmt.Printf("%s notify     %s\n", stamp(), method)
		}),
	)
	if err != nil {
		return err
	}
	defer sess.Close()

	fmt.Printf("%s stream     %s (session %s)\n", stamp(), cfg.ServerURL, sess.ID())

	// A failed handshake is worth a line, but monitoring continues: the
	// degraded session still shows everything the server pushes.
	if err := sess.WaitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Printf("%s handshake  failed: %v\n", stamp(), err)
	} else {
		info := sess.ServerInfo()
		fmt.Printf("%s server     %s %s (protocol %s)\n", stamp(), info.Name, info.Version, sess.ProtocolVersion())
		if instructions := sess.Instructions(); instructions != "" {
			fmt.Printf("%s notes      %s\n", stamp(), instructions)
		}
	}

	select {
	case <-ctx.Done():
		fmt.Printf("%s interrupted\n", stamp())
		return nil
	case <-sess.Done():
		if err := sess.Err(); err != nil {
			return err
		}
		return nil
	}
}
