// Command mcp-debug is a diagnostic client for servers that speak JSON-RPC
// over the legacy HTTP+SSE transport. It connects, runs the initialize
// handshake, and then either monitors the session, prints the discovered
// tool table, issues a single call, or replays a scripted sequence of calls.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	mcpclient "github.com/ggoodman/mcp-client-go"
	"github.com/ggoodman/mcp-client-go/catalog"
	catalogmemory "github.com/ggoodman/mcp-client-go/catalog/memory"
	catalogredis "github.com/ggoodman/mcp-client-go/catalog/redis"
)

// config carries the settings shared by every subcommand. Environment
// variables provide the defaults; the shared flags override them.
type config struct {
	// ServerURL is the SSE stream address. ENV: MCP_SERVER_URL
	ServerURL string `env:"MCP_SERVER_URL,default=http://127.0.0.1:8080/sse"`
	// CallTimeout bounds each call's wait for its response. ENV: MCP_CALL_TIMEOUT
	CallTimeout time.Duration `env:"MCP_CALL_TIMEOUT,default=30s"`
	// ClientName identifies this client during initialize. ENV: MCP_CLIENT_NAME
	ClientName string `env:"MCP_CLIENT_NAME,default=mcp-debug"`
	// ClientVersion accompanies ClientName. ENV: MCP_CLIENT_VERSION
	ClientVersion string `env:"MCP_CLIENT_VERSION,default=dev"`
	// RedisAddr, when set, selects the Redis catalog backend. ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR"`

	verbose bool
}

func main() {
	cmd := "monitor"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "monitor":
		err = runMonitor(args)
	case "tools":
		err = runTools(args)
	case "call":
		err = runCall(args)
	case "replay":
		err = runReplay(args)
	case "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w *os.File) {
	fmt.Fprintf(w, `Usage: mcp-debug [command] [flags]

Commands:
  monitor   connect and log session traffic until interrupted (default)
  tools     print the server's tool table, falling back to the catalog
  call      issue one JSON-RPC call: call -method M [-params JSON]
  replay    replay a JSONL script of calls: replay -file script.jsonl [-watch]
  help      print this help

Shared flags (every command):
  -server URL     stream address (default from MCP_SERVER_URL)
  -timeout D      per-call response deadline (default from MCP_CALL_TIMEOUT)
  -v              log debug detail

Environment:
  MCP_SERVER_URL, MCP_CALL_TIMEOUT, MCP_CLIENT_NAME, MCP_CLIENT_VERSION,
  REDIS_ADDR (selects the Redis catalog backend), CATALOG_KEY_PREFIX,
  CATALOG_TTL
`)
}

// loadConfig reads environment defaults and registers the shared flags on fs
// so flag values win over environment over built-ins.
func loadConfig(fs *flag.FlagSet) *config {
	cfg := &config{}
	// Defaults are provided via struct tags; absent variables are fine.
	_ = envdecode.Decode(cfg)
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}

	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "server SSE stream URL")
	fs.DurationVar(&cfg.CallTimeout, "timeout", cfg.CallTimeout, "per-call response deadline")
	fs.BoolVar(&cfg.verbose, "v", false, "log debug detail")
	return cfg
}

// logger builds the stderr text logger every command installs. The library
// discards logs by default, so this is what makes the session observable.
func (c *config) logger() *slog.Logger {
	level := slog.LevelInfo
	if c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// connect dials a session with the shared configuration applied.
func (c *config) connect(ctx context.Context, log *slog.Logger, opts ...mcpclient.Option) (*mcpclient.Session, error) {
	base := []mcpclient.Option{
		mcpclient.WithLogger(log),
		mcpclient.WithClientInfo(c.ClientName, c.ClientVersion),
		mcpclient.WithCallTimeout(c.CallTimeout),
	}
	return mcpclient.Connect(ctx, c.ServerURL, append(base, opts...)...)
}

// store opens the snapshot store: Redis when REDIS_ADDR is set, otherwise a
// small in-process cache. Returns nil when no usable store is available;
// commands treat that as "no catalog".
func (c *config) store(log *slog.Logger) catalog.Store {
	if c.RedisAddr != "" {
		s, err := catalogredis.NewFromEnv()
		if err != nil {
			log.Warn("catalog.redis.unavailable", slog.String("err", err.Error()))
			return nil
		}
		return s
	}
	s, err := catalogmemory.New(32)
	if err != nil {
		return nil
	}
	return s
}

func stamp() string {
	return time.Now().Format("15:04:05.000")
}
