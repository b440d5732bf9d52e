// Package gateway maintains the websocket event stream from the chat
// platform and turns its frames into voice-state events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arkadian/voicelounge/internal/platform"
	"github.com/arkadian/voicelounge/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// frame is the envelope every gateway message arrives in.
type frame struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data,omitempty"`
}

// identifyPayload authenticates the connection and scopes it to one guild.
type identifyPayload struct {
	Token   string `json:"token"`
	GuildID int64  `json:"guild_id"`
}

// voiceStatePayload mirrors the platform's voice-state update frame.
type voiceStatePayload struct {
	MemberID     int64    `json:"member_id"`
	MemberName   string   `json:"member_name"`
	Roles        []string `json:"roles"`
	OldChannelID int64    `json:"old_channel_id"`
	NewChannelID int64    `json:"new_channel_id"`
}

// commandPayload mirrors the platform's decoded interaction frame.
type commandPayload struct {
	Action      string   `json:"action"`
	MemberID    int64    `json:"member_id"`
	MemberName  string   `json:"member_name"`
	MemberRoles []string `json:"member_roles"`
	ChannelID   int64    `json:"channel_id"`
	TargetID    int64    `json:"target_id"`
	Permission  string   `json:"permission,omitempty"`
	Value       *bool    `json:"value,omitempty"`
	Toggle      bool     `json:"toggle,omitempty"`
}

// Config carries the connection settings.
type Config struct {
	URL     string
	Token   string
	GuildID int64
}

// Client owns the websocket connection and republishes voice-state frames
// on Events. It reconnects with capped exponential backoff; the channel is
// closed only when Run returns.
type Client struct {
	cfg      Config
	dialer   *websocket.Dialer
	events   chan platform.VoiceStateEvent
	commands chan platform.CommandEvent
	log      *zap.Logger
}

// NewClient constructs a gateway client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("gateway: url is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("gateway: token is required")
	}
	return &Client{
		cfg:      cfg,
		dialer:   websocket.DefaultDialer,
		events:   make(chan platform.VoiceStateEvent, 256),
		commands: make(chan platform.CommandEvent, 64),
		log:      logger.WithModule("gateway"),
	}, nil
}

// Events exposes the decoded voice-state stream.
func (c *Client) Events() <-chan platform.VoiceStateEvent { return c.events }

// Commands exposes the decoded interaction stream.
func (c *Client) Commands() <-chan platform.CommandEvent { return c.commands }

// Run dials and re-dials the gateway until the context is cancelled,
// closing Events and Commands on the way out.
func (c *Client) Run(ctx context.Context) {
	defer close(c.events)
	defer close(c.commands)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("gateway connection lost", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// connectAndRead performs one connection lifetime: dial, identify, pump
// frames until the socket or context dies.
func (c *Client) connectAndRead(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := c.identify(conn); err != nil {
		return err
	}
	c.log.Info("gateway connected", zap.String("url", c.cfg.URL))

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// The ping loop doubles as the context watcher: cancelling the context
	// closes the socket, which unblocks ReadMessage below.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(ctx, conn, pingDone)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(payload)
	}
}

func (c *Client) identify(conn *websocket.Conn) error {
	data, err := json.Marshal(identifyPayload{Token: c.cfg.Token, GuildID: c.cfg.GuildID})
	if err != nil {
		return err
	}
	msg, err := json.Marshal(frame{Op: "identify", Data: data})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// dispatch decodes one frame and forwards voice-state updates. Unknown ops
// are ignored so the platform can extend the stream without breaking us.
func (c *Client) dispatch(payload []byte) {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		c.log.Warn("undecodable frame", zap.Error(err))
		return
	}

	switch f.Op {
	case "voice_state":
		var vs voiceStatePayload
		if err := json.Unmarshal(f.Data, &vs); err != nil {
			c.log.Warn("undecodable voice state", zap.Error(err))
			return
		}
		ev := platform.VoiceStateEvent{
			Member:       platform.Member{ID: vs.MemberID, Name: vs.MemberName, Roles: vs.Roles},
			OldChannelID: vs.OldChannelID,
			NewChannelID: vs.NewChannelID,
		}
		select {
		case c.events <- ev:
		default:
			c.log.Warn("event buffer full, dropping frame",
				zap.Int64("member_id", vs.MemberID))
		}
	case "command":
		var cmd commandPayload
		if err := json.Unmarshal(f.Data, &cmd); err != nil {
			c.log.Warn("undecodable command", zap.Error(err))
			return
		}
		ev := platform.CommandEvent{
			Action:     cmd.Action,
			Invoker:    platform.Member{ID: cmd.MemberID, Name: cmd.MemberName, Roles: cmd.MemberRoles},
			ChannelID:  cmd.ChannelID,
			TargetID:   cmd.TargetID,
			Permission: cmd.Permission,
			Value:      cmd.Value,
			Toggle:     cmd.Toggle,
		}
		select {
		case c.commands <- ev:
		default:
			c.log.Warn("command buffer full, dropping frame",
				zap.String("action", cmd.Action),
				zap.Int64("member_id", cmd.MemberID))
		}
	case "heartbeat_ack", "hello":
		// control frames, nothing to do
	default:
		c.log.Debug("ignoring frame", zap.String("op", f.Op))
	}
}
