package eventsource

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
)

var (
	// ErrNotEventStream indicates the server answered 200 with a body that is
	// not an event stream.
	ErrNotEventStream = errors.New("response is not an event stream")
	// ErrReconnectBudgetExhausted indicates too many consecutive failed
	// reconnect attempts.
	ErrReconnectBudgetExhausted = errors.New("reconnect budget exhausted")
)

var eventStreamMediaType = contenttype.NewMediaType("text/event-stream")

const (
	lastEventIDHeader = "Last-Event-ID"

	defaultInitialBackoff       = 500 * time.Millisecond
	defaultMaxBackoff           = 30 * time.Second
	defaultMaxReconnectAttempts = 5

	// maxLineBytes bounds a single wire line. Longer lines fail the scan and
	// drop the connection rather than growing without limit.
	maxLineBytes = 1 << 20
)

// State describes where the reader is in its connection lifecycle.
type State string

const (
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Option configures a Reader.
type Option func(*newConfig)

type newConfig struct {
	client               *http.Client
	logger               *slog.Logger
	headers              http.Header
	initialBackoff       time.Duration
	maxBackoff           time.Duration
	maxReconnectAttempts int
	onState              func(State)
}

// WithHTTPClient sets the client used for the stream GET and all redials.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *newConfig) { cfg.client = c }
}

// WithLogger sets the slog logger used by the reader. If not provided, logs
// are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *newConfig) { cfg.logger = l }
}

// WithHeader adds a header to the stream request and every redial.
func WithHeader(name, value string) Option {
	return func(cfg *newConfig) { cfg.headers.Add(name, value) }
}

// WithInitialBackoff sets the delay before the first reconnect attempt.
// Subsequent attempts double it, up to the maximum.
func WithInitialBackoff(d time.Duration) Option {
	return func(cfg *newConfig) { cfg.initialBackoff = d }
}

// WithMaxBackoff caps the reconnect delay.
func WithMaxBackoff(d time.Duration) Option {
	return func(cfg *newConfig) { cfg.maxBackoff = d }
}

// WithMaxReconnectAttempts sets the consecutive-failure budget. A successful
// redial resets it.
func WithMaxReconnectAttempts(n int) Option {
	return func(cfg *newConfig) { cfg.maxReconnectAttempts = n }
}

// WithStateHandler registers a callback observing every state change. It is
// invoked sequentially from the reader's goroutine and must not block.
func WithStateHandler(fn func(State)) Option {
	return func(cfg *newConfig) { cfg.onState = fn }
}

// Reader consumes one Server-Sent Events stream. It is non-restartable: once
// Events() closes the reader is spent and Err() reports the cause.
type Reader struct {
	url     string
	client  *http.Client
	log     *slog.Logger
	headers http.Header

	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxAttempts    int
	onState        func(State)
	jitter         *rand.Rand

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	lastEventID string
	retryHint   time.Duration
	err         error
}

// Connect performs the stream GET synchronously and starts the read loop. The
// supplied context bounds the stream's whole lifetime, not just the dial.
func Connect(ctx context.Context, url string, opts ...Option) (*Reader, error) {
	cfg := &newConfig{
		client:               http.DefaultClient,
		logger:               slog.New(slog.DiscardHandler),
		headers:              http.Header{},
		initialBackoff:       defaultInitialBackoff,
		maxBackoff:           defaultMaxBackoff,
		maxReconnectAttempts: defaultMaxReconnectAttempts,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	rctx, cancel := context.WithCancel(ctx)
	r := &Reader{
		url:            url,
		client:         cfg.client,
		log:            cfg.logger,
		headers:        cfg.headers,
		initialBackoff: cfg.initialBackoff,
		maxBackoff:     cfg.maxBackoff,
		maxAttempts:    cfg.maxReconnectAttempts,
		onState:        cfg.onState,
		jitter:         rand.New(rand.NewSource(time.Now().UnixNano())),
		events:         make(chan Event),
		ctx:            rctx,
		cancel:         cancel,
		state:          StateConnecting,
	}

	resp, err := r.dial(rctx)
	if err != nil {
		cancel()
		return nil, err
	}

	r.setState(StateOpen)
	r.log.InfoContext(rctx, "sse.stream.open", slog.String("url", url))

	go r.run(resp)

	return r, nil
}

// Events returns the event sequence. The channel closes when the stream ends;
// consult Err() afterwards.
func (r *Reader) Events() <-chan Event {
	return r.events
}

// State reports the reader's current connection state.
func (r *Reader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastEventID reports the most recent id field seen on the stream.
func (r *Reader) LastEventID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastEventID
}

// Err reports why the stream ended. It is nil while the stream is live and
// after a clean Close.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close ends the stream. It is idempotent and safe from any goroutine.
func (r *Reader) Close() error {
	r.cancel()
	return nil
}

// dial issues the stream GET and validates the response. Callers own the
// returned body.
func (r *Reader) dial(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", eventStreamMediaType.String())
	req.Header.Set("Cache-Control", "no-cache")
	for name, values := range r.headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if id := r.LastEventID(); id != "" {
		req.Header.Set(lastEventIDHeader, id)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &statusError{status: resp.StatusCode}
	}

	ctype, err := contenttype.GetMediaType(&http.Request{Header: resp.Header})
	if err != nil || !ctype.Matches(eventStreamMediaType) {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: content-type %q", ErrNotEventStream, resp.Header.Get("Content-Type"))
	}

	return resp, nil
}

// run owns the response body and the reconnect loop. It is the only writer to
// the events channel.
func (r *Reader) run(resp *http.Response) {
	defer close(r.events)

	attempts := 0
	for {
		err := r.consume(resp)
		resp.Body.Close()

		if r.ctx.Err() != nil {
			r.finish(nil)
			return
		}

		r.log.WarnContext(r.ctx, "sse.stream.drop", slog.String("err", err.Error()))

		redialed := false
		for !redialed {
			attempts++
			if attempts > r.maxAttempts {
				r.finish(fmt.Errorf("%w: %d consecutive failures", ErrReconnectBudgetExhausted, attempts-1))
				return
			}
			r.setState(StateReconnecting)

			select {
			case <-r.ctx.Done():
				r.finish(nil)
				return
			case <-time.After(r.nextDelay(attempts)):
			}

			next, err := r.dial(r.ctx)
			if err != nil {
				if r.ctx.Err() != nil {
					r.finish(nil)
					return
				}
				if !retryable(err) {
					r.finish(fmt.Errorf("reconnect failed: %w", err))
					return
				}
				r.log.WarnContext(r.ctx, "sse.stream.redial.fail",
					slog.String("err", err.Error()),
					slog.Int("attempt", attempts))
				continue
			}

			resp = next
			attempts = 0
			redialed = true
			r.setState(StateOpen)
			r.log.InfoContext(r.ctx, "sse.stream.reconnect", slog.String("last_event_id", r.LastEventID()))
		}
	}
}

// consume parses the body until it ends, delivering dispatched events in
// order. The returned error is the transport-level reason the body ended.
func (r *Reader) consume(resp *http.Response) error {
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	p := &parser{lastID: r.LastEventID()}
	for sc.Scan() {
		ev, dispatched := p.feed(sc.Text())

		r.mu.Lock()
		r.lastEventID = p.lastID
		if hint, ok := p.retryHint(); ok {
			r.retryHint = hint
		}
		r.mu.Unlock()

		if !dispatched {
			continue
		}

		select {
		case r.events <- ev:
		case <-r.ctx.Done():
			return r.ctx.Err()
		}
	}

	if err := sc.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return io.EOF
}

// nextDelay computes the backoff for the given consecutive attempt number,
// honoring a pending server retry hint for exactly one attempt.
func (r *Reader) nextDelay(attempt int) time.Duration {
	r.mu.Lock()
	hint := r.retryHint
	r.retryHint = 0
	r.mu.Unlock()
	if hint > 0 {
		return hint
	}

	d := r.maxBackoff
	if shift := uint(attempt - 1); shift < 16 {
		d = r.initialBackoff * time.Duration(1<<shift)
		if d > r.maxBackoff {
			d = r.maxBackoff
		}
	}
	// Jitter up to half the base delay spreads synchronized redials.
	return d + time.Duration(r.jitter.Int63n(int64(d/2)+1))
}

func (r *Reader) setState(s State) {
	r.mu.Lock()
	if r.state == s {
		r.mu.Unlock()
		return
	}
	r.state = s
	handler := r.onState
	r.mu.Unlock()

	if handler != nil {
		handler(s)
	}
}

// finish records the terminal error (nil for a clean close) and moves the
// reader to its final state.
func (r *Reader) finish(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.setState(StateClosed)

	if err != nil {
		r.log.ErrorContext(r.ctx, "sse.stream.end", slog.String("err", err.Error()))
		return
	}
	r.log.InfoContext(r.ctx, "sse.stream.end")
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}

// retryable classifies dial failures. Network errors and a small set of
// transient statuses warrant another attempt; everything else is terminal.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch se.status {
		case http.StatusRequestTimeout, // 408
			http.StatusTooEarly,            // 425
			http.StatusTooManyRequests,     // 429
			http.StatusInternalServerError, // 500
			http.StatusBadGateway,          // 502
			http.StatusServiceUnavailable,  // 503
			http.StatusGatewayTimeout:      // 504
			return true
		default:
			return false
		}
	}
	if errors.Is(err, ErrNotEventStream) {
		return false
	}
	return true
}
