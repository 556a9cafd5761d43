package mcpclient

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ggoodman/mcp-client-go/catalog"
	"github.com/ggoodman/mcp-client-go/eventsource"
	"github.com/ggoodman/mcp-client-go/mcp"
)

const (
	defaultCallTimeout   = 30 * time.Second
	defaultSweepInterval = 500 * time.Millisecond

	defaultClientName    = "mcp-client-go"
	defaultClientVersion = "dev"
)

// Option customizes session construction.
type Option func(*newSessionConfig)

type newSessionConfig struct {
	logger          *slog.Logger
	httpClient      *http.Client
	sender          Sender
	clock           clockwork.Clock
	callTimeout     time.Duration
	sweepInterval   time.Duration
	clientInfo      mcp.ImplementationInfo
	protocolVersion string
	headers         map[string]string
	streamOpts      []eventsource.Option
	catalog         catalog.Store
	onNotification  func(method string, params json.RawMessage)
	onState         func(state SessionState)
}

// WithLogger sets the logger for session and stream diagnostics. The default
// logger discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *newSessionConfig) { c.logger = logger }
}

// WithHTTPClient sets the client used for both the event stream GET and
// outbound POSTs (unless a custom Sender is installed).
func WithHTTPClient(client *http.Client) Option {
	return func(c *newSessionConfig) { c.httpClient = client }
}

// WithSender replaces the outbound transport. The default posts JSON over
// net/http via HTTPSender.
func WithSender(sender Sender) Option {
	return func(c *newSessionConfig) { c.sender = sender }
}

// WithClock injects the clock driving call deadlines. Tests pass a clockwork
// fake clock to make timeout sweeps deterministic.
func WithClock(clock clockwork.Clock) Option {
	return func(c *newSessionConfig) { c.clock = clock }
}

// WithCallTimeout bounds how long each call may wait for its response on the
// stream. Default 30s.
func WithCallTimeout(d time.Duration) Option {
	return func(c *newSessionConfig) { c.callTimeout = d }
}

// WithSweepInterval sets how often expired calls are swept. Default 500ms.
func WithSweepInterval(d time.Duration) Option {
	return func(c *newSessionConfig) { c.sweepInterval = d }
}

// WithClientInfo sets the implementation identity sent during the
// initialize handshake.
func WithClientInfo(name, version string) Option {
	return func(c *newSessionConfig) {
		c.clientInfo = mcp.ImplementationInfo{Name: name, Version: version}
	}
}

// WithProtocolVersion overrides the protocol revision offered during the
// handshake. Default mcp.ProtocolVersion.
func WithProtocolVersion(version string) Option {
	return func(c *newSessionConfig) { c.protocolVersion = version }
}

// WithHeader adds a header to the stream GET. Useful for proxies and
// instrumentation in front of the server.
func WithHeader(name, value string) Option {
	return func(c *newSessionConfig) {
		if c.headers == nil {
			c.headers = make(map[string]string)
		}
		c.headers[name] = value
	}
}

// WithStreamOptions forwards options to the underlying eventsource reader,
// e.g. backoff tuning for flaky links.
func WithStreamOptions(opts ...eventsource.Option) Option {
	return func(c *newSessionConfig) { c.streamOpts = append(c.streamOpts, opts...) }
}

// WithCatalog installs a store that receives the capability snapshot after
// each successful discovery. Write failures are logged, never fatal.
func WithCatalog(store catalog.Store) Option {
	return func(c *newSessionConfig) { c.catalog = store }
}

// WithNotificationHandler registers a callback for server notifications.
// It runs on the session's event loop: return quickly and do not issue
// blocking session calls from inside it.
func WithNotificationHandler(fn func(method string, params json.RawMessage)) Option {
	return func(c *newSessionConfig) { c.onNotification = fn }
}

// WithStateHandler registers a callback observing every lifecycle
// transition.
func WithStateHandler(fn func(state SessionState)) Option {
	return func(c *newSessionConfig) { c.onState = fn }
}
