// Package feed streams session events to a websocket endpoint.
package feed

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/hpl-runner/pkg/gamedto"
)

type State string

var errPublisherClosing = errors.New("publisher closing")

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
)

// HeaderProvider allows injecting handshake headers
type HeaderProvider func() map[string]string

type Option func(*Publisher)

func WithQueueSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(p *Publisher) { p.headers = h }
}

// WithReconnect bounds redial attempts per event after the connection drops.
func WithReconnect(maxAttempts int, delay time.Duration) Option {
	return func(p *Publisher) {
		p.maxReconnectAttempts = maxAttempts
		p.reconnectDelay = delay
	}
}

// Publisher writes events from a bounded queue on a single goroutine.
// Publish never blocks; a full queue drops the event.
type Publisher struct {
	url     string
	headers HeaderProvider
	logger  *zap.Logger

	queueSize            int
	maxReconnectAttempts int
	reconnectDelay       time.Duration

	queue    chan gamedto.Event
	dropped  atomic.Uint64
	sent     atomic.Uint64
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
}

func NewPublisher(url string, opts ...Option) *Publisher {
	p := &Publisher{
		url:                  strings.TrimSpace(url),
		logger:               zap.NewNop(),
		queueSize:            256,
		maxReconnectAttempts: 3,
		reconnectDelay:       500 * time.Millisecond,
		stopCh:               make(chan struct{}),
		state:                StateDisconnected,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan gamedto.Event, p.queueSize)
	return p
}

// Start dials the endpoint and begins draining the queue. A failed dial is
// returned; the writer still runs and redials on the next event.
func (p *Publisher) Start(ctx context.Context) error {
	err := p.dial(ctx)
	p.wg.Add(1)
	go p.writeLoop()
	return err
}

func (p *Publisher) Publish(ev gamedto.Event) {
	select {
	case <-p.stopCh:
		p.dropped.Add(1)
		return
	default:
	}
	select {
	case p.queue <- ev:
	default:
		n := p.dropped.Add(1)
		p.logger.Warn("feed_drop", zap.String("type", string(ev.Type)), zap.Uint64("dropped_total", n))
	}
}

func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }
func (p *Publisher) Sent() uint64    { return p.sent.Load() }

func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Close flushes queued events until ctx expires, then closes the socket.
func (p *Publisher) Close(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-done:
	}
	p.mu.Lock()
	if p.conn != nil {
		_ = p.conn.Close(websocket.StatusNormalClosure, "close")
		p.conn = nil
	}
	p.state = StateClosed
	p.mu.Unlock()
	return err
}

func (p *Publisher) writeLoop() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.queue:
			p.deliver(ev)
		case <-p.stopCh:
			for {
				select {
				case ev := <-p.queue:
					p.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) deliver(ev gamedto.Event) {
	conn, err := p.ensureConn()
	if err != nil {
		p.dropped.Add(1)
		p.logger.Warn("feed_unavailable", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, ev); err != nil {
		p.dropped.Add(1)
		p.logger.Warn("feed_write_failed", zap.String("type", string(ev.Type)), zap.Error(err))
		p.mu.Lock()
		if p.conn == conn {
			_ = conn.Close(websocket.StatusGoingAway, "write failure")
			p.conn = nil
			p.state = StateDisconnected
		}
		p.mu.Unlock()
		return
	}
	p.sent.Add(1)
}

func (p *Publisher) ensureConn() (*websocket.Conn, error) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		return conn, nil
	}
	var lastErr error
	for attempt := 0; attempt <= p.maxReconnectAttempts; attempt++ {
		// Close 이후에는 첫 시도도 dial 하지 않음
		if attempt == 0 {
			select {
			case <-p.stopCh:
				return nil, errPublisherClosing
			default:
			}
		} else {
			select {
			case <-p.stopCh:
				return nil, errPublisherClosing
			case <-time.After(p.reconnectDelay):
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := p.dial(ctx)
		cancel()
		if err == nil {
			p.mu.Lock()
			conn = p.conn
			p.mu.Unlock()
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *Publisher) dial(ctx context.Context) error {
	if p.url == "" {
		return errors.New("feed url is empty")
	}
	if !p.setState(StateConnecting) {
		return errPublisherClosing
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, p.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      p.buildHeaders(),
	})
	if err != nil {
		p.setState(StateDisconnected)
		return err
	}
	p.mu.Lock()
	if p.state == StateClosed {
		// Close 가 dial 도중에 끝났으면 연결을 설치하지 않는다
		p.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "publisher closed")
		return errPublisherClosing
	}
	p.conn = conn
	p.state = StateConnected
	p.mu.Unlock()

	// 이벤트 피드는 쓰기 전용, 상대 프레임은 무시
	conn.CloseRead(context.Background())
	p.logger.Info("feed_connected", zap.String("url", p.url))
	return nil
}

// setState reports false once the publisher is closed; Closed is terminal.
func (p *Publisher) setState(s State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return false
	}
	p.state = s
	return true
}

func (p *Publisher) buildHeaders() http.Header {
	hdr := http.Header{}
	if p.headers == nil {
		return hdr
	}
	for k, v := range p.headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
