// Package push receives server-initiated updates over a WebSocket and feeds
// them to the refresh engine.
package push

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/refreshd/internal/errors"
	"github.com/dgnsrekt/refreshd/internal/refresh"
)

const (
	// Time allowed to write a ping to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next message or pong from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024 * 1024 // 4MB

	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// Sink accepts decoded updates. *refresh.Engine implements it.
type Sink interface {
	Push(u refresh.PushUpdate) (int, error)
}

// Options configures a Listener.
type Options struct {
	Header     http.Header   // sent with the handshake, e.g. Authorization
	MinBackoff time.Duration // first reconnect delay
	MaxBackoff time.Duration // reconnect delay cap
}

// Listener keeps a WebSocket connection to the push endpoint open and hands
// every frame to the sink.
type Listener struct {
	url    string
	opts   Options
	sink   Sink
	codec  *Codec
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewListener creates a listener for url.
func NewListener(url string, sink Sink, opts Options, logger *zap.Logger) (*Listener, error) {
	if url == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "push url required")
	}
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = defaultMinBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	return &Listener{
		url:    url,
		opts:   opts,
		sink:   sink,
		codec:  codec,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}, nil
}

// Run connects and reads until ctx is done, reconnecting with exponential
// backoff. It always returns ctx.Err().
func (l *Listener) Run(ctx context.Context) error {
	defer l.codec.Close()

	backoff := l.opts.MinBackoff
	for {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = l.opts.MinBackoff
		}

		l.logger.Warn("push connection lost, reconnecting",
			zap.String("url", l.url),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > l.opts.MaxBackoff {
			backoff = l.opts.MaxBackoff
		}
	}
}

// session runs one connection. connected reports whether the handshake
// succeeded.
func (l *Listener) session(ctx context.Context) (connected bool, err error) {
	conn, resp, err := l.dialer.DialContext(ctx, l.url, l.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return false, errors.Wrapf(err, "dial %s", l.url)
	}
	defer conn.Close()

	l.logger.Info("push connection established", zap.String("url", l.url))

	done := make(chan struct{})
	defer close(done)
	go l.keepalive(ctx, conn, done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			return true, errors.Wrap(err, "read push frame")
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		l.handleFrame(msgType, frame)
	}
}

// keepalive pings the peer and closes the connection when ctx ends so the
// blocked read returns.
func (l *Listener) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (l *Listener) handleFrame(msgType int, frame []byte) {
	var (
		u   refresh.PushUpdate
		err error
	)
	switch msgType {
	case websocket.TextMessage:
		u, err = l.codec.DecodeText(frame)
	case websocket.BinaryMessage:
		u, err = l.codec.DecodeBinary(frame)
	default:
		return
	}
	if err != nil {
		l.logger.Debug("dropping push frame", zap.Int("bytes", len(frame)), zap.Error(err))
		return
	}

	n, err := l.sink.Push(u)
	if err != nil {
		l.logger.Warn("push update rejected",
			zap.String("dataType", u.DataType),
			zap.Error(err),
		)
		return
	}
	l.logger.Debug("push update received",
		zap.String("dataType", u.DataType),
		zap.String("version", u.Version),
		zap.Int("subscribers", n),
	)
}
