package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/odvcencio/meetprobe/pkg/browser"
)

const (
	readLimit    = 16 << 20
	writeTimeout = 10 * time.Second
)

// client multiplexes DevTools commands over one websocket. Responses are
// matched to callers by id; events go to onEvent from the read loop.
type client struct {
	conn    *websocket.Conn
	onEvent func(method string, params json.RawMessage)

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan message
	err     error

	done chan struct{}
}

func newClient(conn *websocket.Conn, onEvent func(method string, params json.RawMessage)) *client {
	conn.SetReadLimit(readLimit)
	c := &client{
		conn:    conn,
		onEvent: onEvent,
		pending: make(map[int64]chan message),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *client) readLoop() {
	for {
		// Reading with a cancellable context would close the socket on
		// cancel; the loop ends when the connection does.
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			c.fail(fmt.Errorf("%w: %v", browser.ErrConnectionLost, err))
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.ID == 0 {
			if msg.Method != "" && c.onEvent != nil {
				c.onEvent(msg.Method, msg.Params)
			}
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

// fail records the terminal error and releases every waiting caller.
func (c *client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	c.pending = map[int64]chan message{}
	close(c.done)
}

func (c *client) terminalErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// call sends method and waits for its response. Protocol errors come back
// as protocol_error driver errors. When ctx ends first, a deadline is
// reported as browser.ErrOperationTimeout and cancellation as ctx.Err().
func (c *client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	payload, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	ch := make(chan message, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	err = c.conn.Write(writeCtx, websocket.MessageText, payload)
	cancel()
	if err != nil {
		c.forget(id)
		wrapped := fmt.Errorf("%w: write %s: %v", browser.ErrConnectionLost, method, err)
		c.fail(wrapped)
		return nil, wrapped
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return nil, browser.WrapDriverError(browser.CodeProtocol, method, msg.Error)
		}
		return msg.Result, nil
	case <-c.done:
		return nil, c.terminalErr()
	case <-ctx.Done():
		c.forget(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", method, browser.ErrOperationTimeout)
		}
		return nil, ctx.Err()
	}
}

func (c *client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *client) close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	c.fail(browser.ErrSessionClosed)
	return c.conn.Close(websocket.StatusNormalClosure, "session closed")
}
