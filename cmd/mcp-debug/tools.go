package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	mcpclient "github.com/ggoodman/mcp-client-go"
	"github.com/ggoodman/mcp-client-go/catalog"
	"github.com/ggoodman/mcp-client-go/mcp"
)

// discoveryWait bounds how long the tools command waits for the session's
// background discovery before falling back to a direct tools/list call.
const discoveryWait = 3 * time.Second

// runTools connects, waits for discovery, and prints the tool table. When the
// server cannot be reached it serves the last catalog snapshot instead, so an
// operator can still inspect a down server's surface.
func runTools(args []string) error {
	fs := flag.NewFlagSet("tools", flag.ExitOnError)
	cfg := loadConfig(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := cfg.logger()
	store := cfg.store(log)
	if store != nil {
		defer store.Close()
	}

	var opts []mcpclient.Option
	if store != nil {
		opts = append(opts, mcpclient.WithCatalog(store))
	}

	sess, err := cfg.connect(ctx, log, opts...)
	if err != nil {
		return printCachedTools(ctx, store, cfg.ServerURL, err)
	}
	defer sess.Close()

	if err := sess.WaitReady(ctx); err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}

	tools := awaitDiscovery(ctx, sess)
	if len(tools) == 0 {
		// The server may not answer the legacy discovery name; ask with the
		// standard one before concluding it has no tools.
		if listed, err := sess.ListTools(ctx); err == nil {
			tools = listed.Tools
		}
	}

	info := sess.ServerInfo()
	fmt.Printf("server %s %s (protocol %s)\n", info.Name, info.Version, sess.ProtocolVersion())
	printToolTable(tools)
	return nil
}

// awaitDiscovery polls the session's tool snapshot. Discovery is a
// fire-and-forget continuation of the handshake, so Ready does not imply the
// snapshot is populated yet.
func awaitDiscovery(ctx context.Context, sess *mcpclient.Session) []mcp.Tool {
	deadline := time.Now().Add(discoveryWait)
	for {
		if tools := sess.Tools(); len(tools) > 0 {
			return tools
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// printCachedTools serves the catalog snapshot when the live connection
// failed. Without a snapshot, the connect error stands.
func printCachedTools(ctx context.Context, store catalog.Store, serverURL string, connectErr error) error {
	if store == nil {
		return connectErr
	}
	snap, err := store.Get(ctx, serverURL)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "warning: catalog read failed: %v\n", err)
		}
		return connectErr
	}

	fmt.Fprintf(os.Stderr, "warning: server unreachable (%v), serving catalog snapshot\n", connectErr)
	fmt.Printf("server %s %s (protocol %s, cached %s)\n",
		snap.ServerInfo.Name, snap.ServerInfo.Version, snap.ProtocolVersion,
		snap.UpdatedAt.Format(time.RFC3339))
	printToolTable(snap.Tools)
	return nil
}

func printToolTable(tools []mcp.Tool) {
	if len(tools) == 0 {
		fmt.Println("no tools discovered")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 4, ' ', 0)
	fmt.Fprint(w, "NAME\tARGS\tDESCRIPTION\n")
	for _, tool := range tools {
		fmt.Fprintf(w, "%s\t%d\t%s\n", tool.Name, len(tool.InputSchema.Properties), tool.Description)
	}
	w.Flush()
}
