// Package bouyomi controls a running BouyomiChan instance through its TCP
// application-integration port. Every operation opens its own connection,
// sends one packet, reads the status byte for queries and closes.
package bouyomi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/otel"
)

const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = "50001"
	DefaultConnectTimeout = 3 * time.Second
	DefaultIOTimeout      = 3 * time.Second
)

// Client holds the connection target and default voice. It is never mutated
// after construction, so one Client can be shared between goroutines.
type Client struct {
	host           string
	port           string
	config         TalkConfig
	connectTimeout time.Duration
	ioTimeout      time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
	inst           instruments
}

// New returns a client for 127.0.0.1:50001 with DefaultTalkConfig.
// Instrument registration failures go to the global OTel error handler.
func New() *Client {
	inst, err := newInstruments()
	if err != nil {
		otel.Handle(err)
	}
	return &Client{
		host:           DefaultHost,
		port:           DefaultPort,
		config:         DefaultTalkConfig(),
		connectTimeout: DefaultConnectTimeout,
		ioTimeout:      DefaultIOTimeout,
		pollInterval:   time.Second,
		logger:         slog.New(slog.DiscardHandler),
		inst:           inst,
	}
}

func (c *Client) clone() *Client {
	n := *c
	return &n
}

func (c *Client) WithHost(host string) *Client {
	n := c.clone()
	n.host = host
	return n
}

func (c *Client) WithPort(port string) *Client {
	n := c.clone()
	n.port = port
	return n
}

// WithTalkConfig sets the voice used by Talk.
func (c *Client) WithTalkConfig(cfg TalkConfig) *Client {
	n := c.clone()
	n.config = cfg
	return n
}

// WithTimeouts bounds dialing and the whole write/read exchange. Zero
// disables the respective limit.
func (c *Client) WithTimeouts(connect, io time.Duration) *Client {
	n := c.clone()
	n.connectTimeout = connect
	n.ioTimeout = io
	return n
}

func (c *Client) WithLogger(logger *slog.Logger) *Client {
	n := c.clone()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	n.logger = logger.With(slog.String("component", "bouyomi"))
	return n
}

func (c *Client) Host() string { return c.host }

func (c *Client) Port() string { return c.port }

func (c *Client) Addr() string { return net.JoinHostPort(c.host, c.port) }

func (c *Client) TalkConfig() TalkConfig { return c.config }

// Talk reads message aloud with the client's voice. Failures are returned as
// plain text errors; use TalkWithConfig to inspect the *Error.
func (c *Client) Talk(ctx context.Context, message string) error {
	if err := c.TalkWithConfig(ctx, message, c.config); err != nil {
		return errors.New(err.Error())
	}
	return nil
}

// TalkWithConfig queues message with the given voice. It returns once the
// packet is written and does not wait for playback.
func (c *Client) TalkWithConfig(ctx context.Context, message string, cfg TalkConfig) error {
	packet, err := EncodeTalk(cfg, message)
	if err != nil {
		return err
	}
	_, err = c.exchange(ctx, CommandTalk, packet)
	return err
}

func (c *Client) Pause(ctx context.Context) error {
	return c.Send(ctx, CommandPause)
}

func (c *Client) Resume(ctx context.Context) error {
	return c.Send(ctx, CommandResume)
}

// Skip drops the message currently being read.
func (c *Client) Skip(ctx context.Context) error {
	return c.Send(ctx, CommandSkip)
}

// Clear drops every queued message.
func (c *Client) Clear(ctx context.Context) error {
	return c.Send(ctx, CommandClear)
}

// Send issues a payload-less command. For query commands the answer is read
// and discarded.
func (c *Client) Send(ctx context.Context, cmd Command) error {
	_, err := c.exchange(ctx, cmd, EncodeCommand(cmd))
	return err
}

func (c *Client) query(ctx context.Context, cmd Command) (byte, error) {
	return c.exchange(ctx, cmd, EncodeCommand(cmd))
}

// IsPause reports whether playback is paused. On failure it returns false
// together with the error.
func (c *Client) IsPause(ctx context.Context) (bool, error) {
	b, err := c.query(ctx, CommandGetPause)
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// IsNowPlaying reports whether a message is being read. On failure it
// returns false together with the error.
func (c *Client) IsNowPlaying(ctx context.Context) (bool, error) {
	b, err := c.query(ctx, CommandGetNowPlaying)
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// RemainingTasks returns the number of queued messages. The application
// answers with a single byte, so the count saturates at 255.
func (c *Client) RemainingTasks(ctx context.Context) (uint32, error) {
	b, err := c.query(ctx, CommandGetTaskCount)
	if err != nil {
		c.logger.Warn("failed to get remaining tasks", slogError(err))
		return 0, err
	}
	return uint32(b), nil
}

// Wait blocks while a message is playing, polling once per interval for at
// most limitSec-1 rounds. It returns early when playback stops, when a poll
// fails or when ctx is done.
func (c *Client) Wait(ctx context.Context, limitSec int) {
	for i := 1; i < limitSec; i++ {
		playing, err := c.IsNowPlaying(ctx)
		if err != nil {
			c.logger.Warn("failed to get playing status", slogError(err))
			return
		}
		if !playing {
			return
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Snapshot is the combined answer of the three status queries.
type Snapshot struct {
	Paused         bool
	Playing        bool
	RemainingTasks uint32
}

// Snapshot runs all status queries and stops at the first failure.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var (
		s   Snapshot
		err error
	)
	if s.Paused, err = c.IsPause(ctx); err != nil {
		return Snapshot{}, err
	}
	if s.Playing, err = c.IsNowPlaying(ctx); err != nil {
		return Snapshot{}, err
	}
	if s.RemainingTasks, err = c.RemainingTasks(ctx); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
