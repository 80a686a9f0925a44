package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// MaxMessageSize is the maximum size of a single protocol frame (256 KiB)
const MaxMessageSize = 256 * 1024

// Handler processes one decoded request or notification. Returning a
// *RequestError sends it verbatim; any other error becomes an internal
// error with the message as detail.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// message is the JSON-RPC 2.0 envelope for both directions
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RequestError   `json:"error,omitempty"`
}

// Conn is a line-delimited JSON-RPC 2.0 connection. Incoming requests are
// handled on their own goroutines so a long-running request (a prompt turn)
// never blocks cancellation; all outgoing frames funnel through a single
// writer goroutine that is the sole owner of the output stream.
type Conn struct {
	handler Handler
	logger  *slog.Logger

	scanner *bufio.Scanner
	out     chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	wg sync.WaitGroup
}

// NewConn creates a connection over the given streams
func NewConn(r io.Reader, w io.Writer, handler Handler, logger *slog.Logger) *Conn {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, MaxMessageSize), MaxMessageSize)

	c := &Conn{
		handler: handler,
		logger:  logger,
		scanner: scanner,
		out:     make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
	go c.writeLoop(w)
	return c
}

// Serve reads frames until EOF or ctx cancellation. It returns nil on a
// clean EOF. In-flight handlers are awaited before returning.
func (c *Conn) Serve(ctx context.Context) error {
	defer c.close()

	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return ctx.Err()
		default:
		}

		if !c.scanner.Scan() {
			if err := c.scanner.Err(); err != nil {
				c.wg.Wait()
				return fmt.Errorf("read frame: %w", err)
			}
			c.logger.Info("connection input closed")
			c.wg.Wait()
			return nil
		}

		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Error("failed to decode frame", "error", err)
			c.respondError(nil, &RequestError{Code: CodeParseError, Message: "Parse error"})
			continue
		}

		if msg.Method == "" {
			// A response to an agent-initiated request; this agent sends
			// only notifications, so there is nothing to correlate.
			c.logger.Debug("ignoring response frame", "id", rawString(msg.ID))
			continue
		}

		c.wg.Add(1)
		go func(msg message) {
			defer c.wg.Done()
			c.dispatch(ctx, msg)
		}(msg)
	}
}

// Notify sends a notification frame to the client. Safe to call from any
// goroutine.
func (c *Conn) Notify(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal notification params: %w", err)
	}
	return c.send(message{JSONRPC: "2.0", Method: method, Params: raw})
}

func (c *Conn) dispatch(ctx context.Context, msg message) {
	result, err := c.handler.Handle(ctx, msg.Method, msg.Params)

	if msg.ID == nil {
		// Notification: nothing to send back, but surface failures in logs.
		if err != nil {
			c.logger.Warn("notification handler failed", "method", msg.Method, "error", err)
		}
		return
	}

	if err != nil {
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			reqErr = InternalError(map[string]any{"details": err.Error()})
		}
		c.respondError(msg.ID, reqErr)
		return
	}

	if result == nil {
		// JSON-RPC success responses must carry a result member.
		result = struct{}{}
	}
	if sendErr := c.send(message{JSONRPC: "2.0", ID: msg.ID, Result: result}); sendErr != nil {
		c.logger.Error("failed to send response", "method", msg.Method, "error", sendErr)
	}
}

// nullID is the explicit null id required on responses to unparseable
// requests.
var nullID = json.RawMessage("null")

func (c *Conn) respondError(id *json.RawMessage, reqErr *RequestError) {
	if id == nil {
		id = &nullID
	}
	if err := c.send(message{JSONRPC: "2.0", ID: id, Error: reqErr}); err != nil {
		c.logger.Error("failed to send error response", "error", err)
	}
}

func (c *Conn) send(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("frame size %d exceeds limit %d", len(data), MaxMessageSize)
	}

	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	}
}

func (c *Conn) writeLoop(w io.Writer) {
	bw := bufio.NewWriter(w)
	for {
		select {
		case data := <-c.out:
			if _, err := bw.Write(data); err != nil {
				c.logger.Error("write frame", "error", err)
				continue
			}
			if err := bw.WriteByte('\n'); err != nil {
				c.logger.Error("write frame delimiter", "error", err)
				continue
			}
			// Flush per frame for real-time streaming.
			if err := bw.Flush(); err != nil {
				c.logger.Error("flush frame", "error", err)
			}
		case <-c.closed:
			// Drain anything queued before the connection closed.
			for {
				select {
				case data := <-c.out:
					bw.Write(data)
					bw.WriteByte('\n')
				default:
					bw.Flush()
					return
				}
			}
		}
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func rawString(id *json.RawMessage) string {
	if id == nil {
		return ""
	}
	return string(*id)
}
