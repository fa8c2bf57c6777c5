package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const channelName = "new_message"

// PostgresFeed listens on the new_message NOTIFY channel and dispatches
// decoded rows to matching subscribers. A trigger installed by the schema
// migrations emits one notification per inserted message.
type PostgresFeed struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger

	mu       sync.Mutex
	subs     map[int]*feedSub
	nextID   int
	started  bool
	degraded bool

	maxReconnects int
	backoff       time.Duration
	onDegraded    func(error)
	listenFn      func(context.Context) (*pgxpool.Conn, error)

	cancelListen context.CancelFunc
	done         chan struct{}
}

type feedSub struct {
	filter Filter
	fn     Handler
}

// PostgresFeedOption configures a PostgresFeed.
type PostgresFeedOption func(*PostgresFeed)

// WithMaxReconnects bounds the reconnect attempts after a listener failure.
func WithMaxReconnects(n int) PostgresFeedOption {
	return func(f *PostgresFeed) { f.maxReconnects = n }
}

// WithReconnectBackoff sets the base delay between reconnect attempts.
func WithReconnectBackoff(d time.Duration) PostgresFeedOption {
	return func(f *PostgresFeed) { f.backoff = d }
}

// WithDegradedFunc installs a callback invoked once when reconnect attempts
// are exhausted and the feed stops delivering.
func WithDegradedFunc(fn func(error)) PostgresFeedOption {
	return func(f *PostgresFeed) { f.onDegraded = fn }
}

// NewPostgresFeed creates a feed over the given pool. Start must be called
// before events are delivered.
func NewPostgresFeed(pool *pgxpool.Pool, logger zerolog.Logger, opts ...PostgresFeedOption) *PostgresFeed {
	f := &PostgresFeed{
		pool:          pool,
		logger:        logger,
		subs:          make(map[int]*feedSub),
		maxReconnects: 3,
		backoff:       time.Second,
		done:          make(chan struct{}),
	}
	f.listenFn = f.listen
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start begins listening. It returns after the first LISTEN succeeds; the
// notification loop runs until Close or until reconnects are exhausted.
func (f *PostgresFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return fmt.Errorf("feed already started")
	}
	f.started = true
	listenCtx, cancel := context.WithCancel(context.Background())
	f.cancelListen = cancel
	f.mu.Unlock()

	conn, err := f.listenFn(ctx)
	if err != nil {
		return err
	}

	go f.run(listenCtx, conn)
	return nil
}

func (f *PostgresFeed) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+channelName); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channelName, err)
	}
	return conn, nil
}

func (f *PostgresFeed) run(ctx context.Context, conn *pgxpool.Conn) {
	defer close(f.done)
	defer func() {
		if conn != nil {
			conn.Release()
		}
	}()

	attempts := 0
	lastErr := fmt.Errorf("listener connection lost")
	for {
		// The wait below must never run against a nil conn; a lost or
		// never-established connection goes through the reconnect branch
		// until it is replaced or the attempt budget runs out.
		if conn == nil {
			// Bounded reconnect, then surface degraded state. Retrying
			// forever would hide a dead feed from the caller.
			if attempts >= f.maxReconnects {
				f.markDegraded(lastErr)
				return
			}
			attempts++
			f.logger.Warn().Err(lastErr).Int("attempt", attempts).Msg("changefeed reconnecting")

			select {
			case <-ctx.Done():
				return
			case <-time.After(f.backoff * time.Duration(attempts)):
			}

			next, err := f.listenFn(ctx)
			if err != nil {
				lastErr = err
				f.logger.Warn().Err(err).Int("attempt", attempts).Msg("changefeed reconnect failed")
				continue
			}
			conn = next
		}

		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			lastErr = err
			conn.Release()
			conn = nil
			continue
		}

		attempts = 0

		var evt Event
		if err := json.Unmarshal([]byte(notification.Payload), &evt); err != nil {
			f.logger.Warn().Err(err).Msg("changefeed payload decode failed")
			continue
		}
		f.dispatch(evt)
	}
}

func (f *PostgresFeed) markDegraded(err error) {
	f.mu.Lock()
	f.degraded = true
	cb := f.onDegraded
	f.mu.Unlock()

	f.logger.Error().Err(err).Msg("changefeed degraded, delivery stopped")
	if cb != nil {
		cb(err)
	}
}

// Degraded reports whether the feed has stopped delivering after exhausting
// reconnect attempts.
func (f *PostgresFeed) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

func (f *PostgresFeed) dispatch(evt Event) {
	f.mu.Lock()
	handlers := make([]Handler, 0, len(f.subs))
	for _, s := range f.subs {
		if s.filter.Matches(evt) {
			handlers = append(handlers, s.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range handlers {
		fn(evt)
	}
}

// Subscribe registers a handler for events matching the filter.
func (f *PostgresFeed) Subscribe(_ context.Context, filter Filter, fn Handler) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.degraded {
		return nil, fmt.Errorf("changefeed degraded")
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = &feedSub{filter: filter, fn: fn}

	return NewSubscription(func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}), nil
}

// SubscriberCount returns the number of active registrations.
func (f *PostgresFeed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close stops the listener and waits for the notification loop to exit.
func (f *PostgresFeed) Close() {
	f.mu.Lock()
	cancel := f.cancelListen
	started := f.started
	f.mu.Unlock()

	if !started {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-f.done
}
