package authority

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// streamPongWait bounds silence on the change stream before reconnecting
	streamPongWait = 90 * time.Second

	streamBuffer = 16
)

// Subscribe opens the per-device change stream. Dropped connections are
// redialed with exponential backoff until ctx is done.
func (c *Client) Subscribe(ctx context.Context, deviceID string) (<-chan ChangeEvent, error) {
	target := c.streamURL(deviceID)
	events := make(chan ChangeEvent, streamBuffer)

	go func() {
		defer close(events)

		backoff := c.reconnectMin
		for {
			connected, err := c.stream(ctx, target, events)
			if ctx.Err() != nil {
				return
			}
			if connected {
				backoff = c.reconnectMin
			}
			c.logger.DebugContext(ctx, "change stream dropped",
				slog.String("device_id", deviceID),
				slog.Duration("retry_in", backoff),
				slog.Any("error", err))

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.reconnectMax {
				backoff = c.reconnectMax
			}
		}
	}()

	return events, nil
}

func (c *Client) streamURL(deviceID string) string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.baseURL.Path + "/v1/stream"
	u.RawQuery = url.Values{"device": []string{deviceID}}.Encode()
	return u.String()
}

// stream holds one connection open and forwards events until it fails.
// connected reports whether the dial succeeded.
func (c *Client) stream(ctx context.Context, target string, events chan<- ChangeEvent) (connected bool, err error) {
	header := http.Header{}
	if c.apiKey != "" {
		header.Set(APIKeyHeader, c.apiKey)
	}

	conn, _, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(streamPongWait))

		var event ChangeEvent
		if err := json.Unmarshal(message, &event); err != nil {
			c.logger.WarnContext(ctx, "ignoring malformed change event", slog.String("error", err.Error()))
			continue
		}

		select {
		case events <- event:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}
