package remote

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/lastmilehq/deliverysync/internal/domain"
)

const (
	feedReadLimit     = 1 << 20 // 1MB per event frame
	feedPongWait      = 60 * time.Second
	feedPingInterval  = 30 * time.Second
	reconnectBase     = 500 * time.Millisecond
	maxReconnectTries = 8
)

// FeedConfig holds the settings for the websocket change feed.
type FeedConfig struct {
	// URL is the websocket endpoint, e.g. wss://host/api/v1/services/feed.
	URL string
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
}

// Feed is a gorilla/websocket ChangeFeedSource. It owns reconnection:
// when the socket drops it redials with exponential backoff and resumes
// delivering events. After a reconnect the backend may replay events the
// consumer has already seen; consumers are expected to apply them
// idempotently.
type Feed struct {
	cfg    FeedConfig
	dialer *websocket.Dialer
	log    *slog.Logger
}

// NewFeed creates a Feed for the given endpoint.
func NewFeed(cfg FeedConfig, log *slog.Logger) *Feed {
	if log == nil {
		log = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Feed{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log: log,
	}
}

// Subscribe dials the feed and starts delivering events to onEvent from a
// background goroutine. The returned function tears the subscription down;
// it is safe to call more than once.
func (f *Feed) Subscribe(token string, onEvent func(domain.ChangeEvent)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	conn, err := f.dial(ctx, token)
	if err != nil {
		cancel()
		return nil, domain.NewAppError(domain.CodeSubscription, "failed to connect to change feed", err)
	}

	sub := &subscription{
		feed:    f,
		token:   token,
		id:      uuid.New().String(),
		onEvent: onEvent,
		cancel:  cancel,
	}
	f.log.Info("change feed connected", slog.String("subscription_id", sub.id))
	go sub.run(ctx, conn)

	var once sync.Once
	return func() {
		once.Do(sub.stop)
	}, nil
}

func (f *Feed) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, header)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(feedReadLimit)
	return conn, nil
}

// subscription is one live feed connection plus its reconnect loop.
type subscription struct {
	feed    *Feed
	token   string
	id      string
	onEvent func(domain.ChangeEvent)
	cancel  context.CancelFunc

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscription) stop() {
	s.cancel()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// run reads events until the subscription is torn down, redialing on
// transport failures. If reconnection is exhausted the subscription ends and
// the mirror keeps working in poll-only mode.
func (s *subscription) run(ctx context.Context, conn *websocket.Conn) {
	for {
		s.setConn(conn)
		s.readLoop(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			s.feed.log.Info("change feed closed", slog.String("subscription_id", s.id))
			return
		}

		s.feed.log.Warn("change feed disconnected, reconnecting", slog.String("subscription_id", s.id))
		next, err := s.reconnect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.feed.log.Error("change feed reconnect exhausted, giving up",
					slog.String("subscription_id", s.id), slog.Any("error", err))
			}
			return
		}
		conn = next
	}
}

func (s *subscription) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// readLoop delivers events in arrival order until the connection breaks.
// A ping ticker keeps intermediaries from idling the connection out.
func (s *subscription) readLoop(ctx context.Context, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(feedPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var ev domain.ChangeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.feed.log.Debug("change feed read error", slog.String("subscription_id", s.id), slog.Any("error", err))
			}
			return
		}
		if ev.ID == "" {
			s.feed.log.Warn("dropping change event without id", slog.String("kind", string(ev.Kind)))
			continue
		}
		s.onEvent(ev)
	}
}

// reconnect redials with exponential backoff until it succeeds, the retry
// budget runs out, or the subscription is cancelled.
func (s *subscription) reconnect(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	backoff := retry.WithMaxRetries(maxReconnectTries, retry.NewExponential(reconnectBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := s.feed.dial(ctx, s.token)
		if err != nil {
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.feed.log.Info("change feed reconnected", slog.String("subscription_id", s.id))
	return conn, nil
}
