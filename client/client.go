package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dnldd/candlebot/bot"
	"github.com/dnldd/candlebot/shared"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
)

// Command names of the bot websocket api.
const (
	cmdIDs     = ":ids"
	cmdBeBot   = ":be.bot"
	cmdGetBot  = ":get.bot"
	cmdNewBot  = ":new.bot"
	cmdStart   = ":start"
	cmdStop    = ":stop"
	cmdStatus  = ":status"
	cmdVersion = ":version"
)

const (
	// tokenHeader is the header carrying the access token.
	tokenHeader = "x-access-token"
	// writeTimeout is the deadline of a single frame write.
	writeTimeout = 10 * time.Second
)

// ErrClosed is returned for calls on a closed connection.
var ErrClosed = errors.New("connection closed")

// Error is a command failure reported by the bot host. It unwraps to the error kind
// it names.
type Error struct {
	Message string
	Name    string
	Status  int
}

// Error returns the failure message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the error kind of the failure.
func (e *Error) Unwrap() error {
	return shared.KindByName(e.Name)
}

// Config represents the bot client configuration.
type Config struct {
	// URL is the websocket url of the bot host, without the api version.
	URL string
	// Version is the api version of the bot host.
	Version string
	// Token is the access token of the client.
	Token string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if cfg.URL == "" {
		errs = errors.Join(errs, fmt.Errorf("url cannot be an empty string"))
	}
	if cfg.Version == "" {
		errs = errors.Join(errs, fmt.Errorf("version cannot be an empty string"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Client drives bots of a bot host over a websocket connection.
type Client struct {
	cfg        *Config
	conn       *websocket.Conn
	events     *bot.Subscriber
	nextID     atomic.Int64
	pending    map[int64]chan gjson.Result
	pendingMtx sync.Mutex
	writeMtx   sync.Mutex
	closed     chan struct{}
	err        error
	closeOnce  sync.Once
	closeErr   error
}

// Dial connects a client to the configured bot host.
func Dial(ctx context.Context, cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set(tokenHeader, cfg.Token)
	}

	url := strings.TrimSuffix(cfg.URL, "/") + "/" + cfg.Version
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	c := &Client{
		cfg:     cfg,
		conn:    conn,
		events:  bot.NewSubscriber(url),
		pending: make(map[int64]chan gjson.Result),
		closed:  make(chan struct{}),
	}
	go c.read()

	return c, nil
}

// event decodes the provided event frame.
func event(frame gjson.Result) (shared.Event, error) {
	kind := shared.EventKind(strings.TrimPrefix(frame.Get("event").String(), ":"))
	event := shared.Event{Bot: frame.Get("bot").String(), Kind: kind}

	data := frame.Get("data")
	switch kind {
	case shared.EventStarted, shared.EventStopped:
	case shared.EventProgress:
		event.Progress = int(data.Int())
	case shared.EventFailed:
		event.Err = data.String()
	case shared.EventTransacted:
		var tx shared.Transaction
		if err := json.Unmarshal([]byte(data.Raw), &tx); err != nil {
			return shared.Event{}, fmt.Errorf("decoding transaction: %w", err)
		}
		event.Transaction = &tx
	default:
		event.Payload = data.Value()
	}

	return event, nil
}

// read dispatches incoming frames until the connection fails.
func (c *Client) read() {
	var err error
	for {
		var data []byte
		_, data, err = c.conn.ReadMessage()
		if err != nil {
			break
		}

		frame := gjson.ParseBytes(data)
		if frame.Get("event").Exists() {
			evt, err := event(frame)
			if err != nil {
				c.cfg.Logger.Error().Err(err).Msgf("unable to decode %s event",
					frame.Get("event").String())
				continue
			}
			c.events.Deliver(evt)
			continue
		}

		id := frame.Get("id").Int()
		c.pendingMtx.Lock()
		resp, ok := c.pending[id]
		delete(c.pending, id)
		c.pendingMtx.Unlock()
		if !ok {
			c.cfg.Logger.Error().Msgf("unexpected response: %s", frame.Raw)
			continue
		}
		resp <- frame
	}

	c.pendingMtx.Lock()
	c.err = fmt.Errorf("%w: %w", ErrClosed, err)
	close(c.closed)
	c.pendingMtx.Unlock()
}

// call issues a command and waits for its result.
func (c *Client) call(ctx context.Context, cmd string, args any) (gjson.Result, error) {
	id := c.nextID.Inc()
	resp := make(chan gjson.Result, 1)

	c.pendingMtx.Lock()
	select {
	case <-c.closed:
		c.pendingMtx.Unlock()
		return gjson.Result{}, c.err
	default:
	}
	c.pending[id] = resp
	c.pendingMtx.Unlock()

	defer func() {
		c.pendingMtx.Lock()
		delete(c.pending, id)
		c.pendingMtx.Unlock()
	}()

	c.writeMtx.Lock()
	err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err == nil {
		err = c.conn.WriteJSON(map[string]any{"id": id, "cmd": cmd, "args": args})
	}
	c.writeMtx.Unlock()
	if err != nil {
		return gjson.Result{}, fmt.Errorf("sending %s: %w", cmd, err)
	}

	select {
	case frame := <-resp:
		if failure := frame.Get("error"); failure.Exists() {
			return gjson.Result{}, &Error{
				Message: failure.Get("message").String(),
				Name:    failure.Get("name").String(),
				Status:  int(failure.Get("status").Int()),
			}
		}
		return frame.Get("result"), nil
	case <-c.closed:
		return gjson.Result{}, c.err
	case <-ctx.Done():
		return gjson.Result{}, ctx.Err()
	}
}

// status decodes a bot status result.
func status(result gjson.Result) (bot.Status, error) {
	var status bot.Status
	if err := json.Unmarshal([]byte(result.Raw), &status); err != nil {
		return bot.Status{}, fmt.Errorf("decoding status: %w", err)
	}

	return status, nil
}

// IDs returns the client ids subscribed to the named bot, every client id of the host
// when no name is provided.
func (c *Client) IDs(ctx context.Context, name string) ([]string, error) {
	var args any
	if name != "" {
		args = name
	}

	result, err := c.call(ctx, cmdIDs, args)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(result.Array()))
	for _, id := range result.Array() {
		ids = append(ids, id.String())
	}

	return ids, nil
}

// BeBot returns whether the named bot exists.
func (c *Client) BeBot(ctx context.Context, name string) (bool, error) {
	result, err := c.call(ctx, cmdBeBot, name)
	if err != nil {
		return false, err
	}

	return result.Bool(), nil
}

// GetBot subscribes the client to the events of the named bot.
func (c *Client) GetBot(ctx context.Context, name string) error {
	_, err := c.call(ctx, cmdGetBot, name)
	return err
}

// NewBot creates a bot from the provided json encodable config and subscribes the
// client to its events.
func (c *Client) NewBot(ctx context.Context, name string, config any) error {
	_, err := c.call(ctx, cmdNewBot, map[string]any{"name": name, "config": config})
	return err
}

// Start runs the named bot and returns its status once the run is done.
func (c *Client) Start(ctx context.Context, name string) (bot.Status, error) {
	result, err := c.call(ctx, cmdStart, name)
	if err != nil {
		return bot.Status{}, err
	}

	return status(result)
}

// Stop requests the named bot to stop, returning "ok" for a running bot and "done" for
// a finished one.
func (c *Client) Stop(ctx context.Context, name string) (string, error) {
	result, err := c.call(ctx, cmdStop, name)
	if err != nil {
		return "", err
	}

	return result.String(), nil
}

// Status returns the status of the named bot.
func (c *Client) Status(ctx context.Context, name string) (bot.Status, error) {
	result, err := c.call(ctx, cmdStatus, name)
	if err != nil {
		return bot.Status{}, err
	}

	return status(result)
}

// Version returns the api version of the bot host.
func (c *Client) Version(ctx context.Context) (string, error) {
	result, err := c.call(ctx, cmdVersion, nil)
	if err != nil {
		return "", err
	}

	return result.String(), nil
}

// Next returns the next event of the bots the client is subscribed to, blocking until
// one arrives or the provided context is done.
func (c *Client) Next(ctx context.Context) (shared.Event, error) {
	return c.events.Next(ctx)
}

// WaitFor returns the next event of the provided kind for the named bot, discarding
// other events received meanwhile.
func (c *Client) WaitFor(ctx context.Context, name string, kind shared.EventKind) (shared.Event, error) {
	for {
		event, err := c.Next(ctx)
		if err != nil {
			return shared.Event{}, err
		}
		if event.Bot == name && event.Kind == kind {
			return event, nil
		}
	}
}

// Close closes the connection to the bot host. Closing a closed client is a no-op.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.writeMtx.Lock()
		err := c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		c.writeMtx.Unlock()
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.cfg.Logger.Error().Err(err).Msg("unable to send close frame")
		}

		select {
		case <-c.closed:
		case <-time.After(time.Second):
		}

		c.closeErr = c.conn.Close()
	})

	return c.closeErr
}
