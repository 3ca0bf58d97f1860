// Package wsclient is a reconnecting client for the match streaming endpoint.
package wsclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-Match-server/internal/obslog"
	"github.com/park285/Cheese-Match-server/pkg/matchdto"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

var ErrNotConnected = errors.New("websocket not connected")

type EventCallback func(ev *matchdto.Event)

type StateCallback func(state State)

type eventEntry struct {
	id int
	cb EventCallback
}

type stateEntry struct {
	id int
	cb StateCallback
}

type Client struct {
	url    string
	header http.Header

	mu     sync.Mutex
	conn   *websocket.Conn
	state  State
	joined map[string]struct{}

	writeMu sync.Mutex

	cbMu     sync.RWMutex
	nextCbID int
	eventCbs []eventEntry
	stateCbs []stateEntry

	maxReconnectAttempts int
	pingInterval         time.Duration
	dialTimeout          time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Option func(*Client)

// WithToken authenticates the handshake with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.header.Set("Authorization", "Bearer "+token) }
}

func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Set(key, value) }
}

// WithReconnect sets how many redial attempts follow a dropped connection. Zero disables.
func WithReconnect(max int) Option {
	return func(c *Client) { c.maxReconnectAttempts = max }
}

// WithPingInterval sets the keepalive period. Zero disables pings.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) { c.pingInterval = d }
}

func New(url string, opts ...Option) *Client {
	c := &Client{
		url:                  url,
		header:               http.Header{},
		state:                StateDisconnected,
		joined:               make(map[string]struct{}),
		maxReconnectAttempts: 5,
		pingInterval:         30 * time.Second,
		dialTimeout:          10 * time.Second,
		stopCh:               make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateFailed)
		return err
	}
	c.install(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.header.Clone(),
	})
	return conn, err
}

// install makes conn current and starts its reader and pinger. Callers hold a wg slot or
// are outside Close.
func (c *Client) install(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)

	c.wg.Add(1)
	go c.listen(conn)
	if c.pingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop(conn)
	}
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) listen(conn *websocket.Conn) {
	defer c.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		var ev matchdto.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if c.isStopping() {
				return
			}
			obslog.L().Warn("wsclient_read_failed", zap.Error(err))
			c.drop(conn, "read failure")
			c.scheduleReconnect()
			return
		}

		c.cbMu.RLock()
		callbacks := append([]eventEntry(nil), c.eventCbs...)
		c.cbMu.RUnlock()
		for _, entry := range callbacks {
			entry.cb(&ev)
		}
	}
}

// pingLoop closes the connection after two failed pings; the reader then reconnects.
func (c *Client) pingLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			if c.current() != conn {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (c *Client) drop(conn *websocket.Conn, reason string) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close(websocket.StatusGoingAway, reason)
	c.setState(StateDisconnected)
}

func (c *Client) scheduleReconnect() {
	if c.maxReconnectAttempts <= 0 {
		return
	}
	c.setState(StateReconnecting)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for attempt := 1; attempt <= c.maxReconnectAttempts; attempt++ {
			select {
			case <-c.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}
			conn, err := c.dial(context.Background())
			if err != nil {
				obslog.L().Debug("wsclient_redial_failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			c.install(conn)
			c.rejoin()
			return
		}
		c.setState(StateFailed)
	}()
}

// rejoin re-subscribes to every match joined before the connection dropped.
func (c *Client) rejoin() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.joined))
	for id := range c.joined {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Send(ctx, matchdto.Command{Type: matchdto.CmdJoin, MatchID: id}); err != nil {
			obslog.Match(id).Warn("wsclient_rejoin_failed", zap.Error(err))
		}
		cancel()
	}
}

// Send writes one command frame.
func (c *Client) Send(ctx context.Context, cmd matchdto.Command) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	// wsjson.Write 는 동시 호출에 안전하지 않음
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, conn, &cmd)
}

// Join subscribes to a match and remembers it for reconnects.
func (c *Client) Join(ctx context.Context, matchID string) error {
	if err := c.Send(ctx, matchdto.Command{Type: matchdto.CmdJoin, MatchID: matchID}); err != nil {
		return err
	}
	c.mu.Lock()
	c.joined[matchID] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Client) Move(ctx context.Context, matchID string, mv matchdto.MoveRequest) error {
	return c.Send(ctx, matchdto.Command{Type: matchdto.CmdMove, MatchID: matchID, Move: &mv})
}

func (c *Client) Chat(ctx context.Context, matchID, message string) error {
	return c.Send(ctx, matchdto.Command{Type: matchdto.CmdChat, MatchID: matchID, Message: message})
}

func (c *Client) OnEvent(cb EventCallback) int {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.nextCbID++
	c.eventCbs = append(c.eventCbs, eventEntry{id: c.nextCbID, cb: cb})
	return c.nextCbID
}

func (c *Client) RemoveEventCallback(id int) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	for i, e := range c.eventCbs {
		if e.id == id {
			c.eventCbs = append(c.eventCbs[:i], c.eventCbs[i+1:]...)
			return
		}
	}
}

func (c *Client) OnStateChange(cb StateCallback) int {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.nextCbID++
	c.stateCbs = append(c.stateCbs, stateEntry{id: c.nextCbID, cb: cb})
	return c.nextCbID
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	c.cbMu.RLock()
	callbacks := append([]stateEntry(nil), c.stateCbs...)
	c.cbMu.RUnlock()
	for _, e := range callbacks {
		e.cb(s)
	}
}

func (c *Client) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// Close stops reconnecting, closes the connection and waits for goroutines or ctx.
func (c *Client) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if conn := c.current(); conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.setState(StateDisconnected)
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	attempt = min(max(attempt, 1), 6)
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}
