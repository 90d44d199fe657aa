package inbound

import (
	"context"
	"encoding/json"
	"time"

	"herald/internal/classify"
	"herald/internal/models"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

const (
	reconnectBaseDelay = 2 * time.Second
	reconnectMaxDelay  = 60 * time.Second
)

// Listener consumes reply events from the provider gateway's websocket
// stream and feeds them to the intent recorder. The gateway pushes one
// JSON-encoded reply per message.
type Listener struct {
	url      string
	recorder *classify.Recorder
	logger   *logrus.Logger
}

func NewListener(url string, recorder *classify.Recorder, logger *logrus.Logger) *Listener {
	return &Listener{
		url:      url,
		recorder: recorder,
		logger:   logger,
	}
}

// Run connects to the reply stream and processes events until the context
// is cancelled, reconnecting with backoff on any connection failure.
func (l *Listener) Run(ctx context.Context) {
	delay := reconnectBaseDelay

	for {
		if ctx.Err() != nil {
			return
		}

		received, err := l.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.logger.WithError(err).WithField("url", l.url).Warn("Reply stream disconnected, reconnecting")
		}
		if received {
			// The connection carried traffic before dropping, so this is
			// not part of a failure streak.
			delay = reconnectBaseDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// consume reports whether at least one message was read, so Run can tell
// a healthy stream that dropped from a connection that keeps failing.
func (l *Listener) consume(ctx context.Context) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, l.url, nil)
	cancel()
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	l.logger.WithField("url", l.url).Info("Reply stream connected")

	received := false
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return received, err
		}
		received = true
		if msgType != websocket.MessageText {
			continue
		}
		l.handleEvent(ctx, data)
	}
}

func (l *Listener) handleEvent(ctx context.Context, data []byte) {
	var reply models.InboundReply
	if err := json.Unmarshal(data, &reply); err != nil {
		l.logger.WithError(err).Warn("Dropping malformed reply event")
		return
	}
	if reply.RecipientKey == "" || reply.Text == "" {
		l.logger.Debug("Dropping reply event without recipient or text")
		return
	}
	if reply.ReceivedAt.IsZero() {
		reply.ReceivedAt = time.Now().UTC()
	}

	intent, err := l.recorder.HandleReply(ctx, reply)
	if err != nil {
		l.logger.WithError(err).WithFields(logrus.Fields{
			"channel":   reply.Channel,
			"recipient": reply.RecipientKey,
		}).Error("Failed to process inbound reply")
		return
	}

	l.logger.WithFields(logrus.Fields{
		"channel":   reply.Channel,
		"recipient": reply.RecipientKey,
		"intent":    intent,
	}).Debug("Processed inbound reply")
}
