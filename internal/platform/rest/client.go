// Package rest implements platform.Session over the platform's HTTP API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arkadian/voicelounge/internal/platform"
)

const defaultTimeout = 30 * time.Second

// Config carries the REST connection settings.
type Config struct {
	BaseURL string
	Token   string
	GuildID int64
	Timeout time.Duration
}

// Client is the HTTP realisation of platform.Session. Every method maps an
// HTTP status onto the platform error taxonomy so callers never see raw
// status codes.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient constructs a REST client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("rest: base url is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("rest: token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}, nil
}

type channelPayload struct {
	ID         int64              `json:"id"`
	Name       string             `json:"name"`
	CategoryID int64              `json:"category_id"`
	Bitrate    int                `json:"bitrate"`
	Overwrites []overwritePayload `json:"overwrites"`
}

type overwritePayload struct {
	TargetID int64  `json:"target_id"`
	Kind     string `json:"kind"`
	Allow    int64  `json:"allow"`
	Deny     int64  `json:"deny"`
}

type memberPayload struct {
	ID    int64    `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

func decodeChannel(p channelPayload) *platform.Channel {
	ch := &platform.Channel{
		ID:         p.ID,
		Name:       p.Name,
		CategoryID: p.CategoryID,
		Bitrate:    p.Bitrate,
	}
	for _, ow := range p.Overwrites {
		ch.Overwrites = append(ch.Overwrites, platform.Overwrite{
			TargetID: ow.TargetID,
			Kind:     decodeKind(ow.Kind),
			Allow:    ow.Allow,
			Deny:     ow.Deny,
		})
	}
	return ch
}

func decodeKind(kind string) platform.OverwriteKind {
	if kind == "role" {
		return platform.OverwriteRole
	}
	return platform.OverwriteMember
}

func encodeKind(kind platform.OverwriteKind) string {
	if kind == platform.OverwriteRole {
		return "role"
	}
	return "member"
}

// Channel implements platform.Session.
func (c *Client) Channel(ctx context.Context, channelID int64) (*platform.Channel, error) {
	var payload channelPayload
	err := c.do(ctx, "channel", http.MethodGet,
		fmt.Sprintf("/channels/%d", channelID), nil, &payload)
	if err != nil {
		return nil, err
	}
	return decodeChannel(payload), nil
}

// CreateChannel implements platform.Session.
func (c *Client) CreateChannel(ctx context.Context, input platform.CreateChannelInput) (*platform.Channel, error) {
	body := channelPayload{
		Name:       input.Name,
		CategoryID: input.CategoryID,
		Bitrate:    input.Bitrate,
	}
	for _, ow := range input.Overwrites {
		body.Overwrites = append(body.Overwrites, overwritePayload{
			TargetID: ow.TargetID,
			Kind:     encodeKind(ow.Kind),
			Allow:    ow.Allow,
			Deny:     ow.Deny,
		})
	}

	var payload channelPayload
	err := c.do(ctx, "create channel", http.MethodPost,
		fmt.Sprintf("/guilds/%d/channels", c.cfg.GuildID), body, &payload)
	if err != nil {
		return nil, err
	}
	return decodeChannel(payload), nil
}

// DeleteChannel implements platform.Session.
func (c *Client) DeleteChannel(ctx context.Context, channelID int64, reason string) error {
	return c.do(ctx, "delete channel", http.MethodDelete,
		fmt.Sprintf("/channels/%d", channelID), map[string]string{"reason": reason}, nil)
}

// SetOverwrite implements platform.Session.
func (c *Client) SetOverwrite(ctx context.Context, channelID int64, ow platform.Overwrite) error {
	body := overwritePayload{
		TargetID: ow.TargetID,
		Kind:     encodeKind(ow.Kind),
		Allow:    ow.Allow,
		Deny:     ow.Deny,
	}
	return c.do(ctx, "set overwrite", http.MethodPut,
		fmt.Sprintf("/channels/%d/overwrites/%d", channelID, ow.TargetID), body, nil)
}

// MoveMember implements platform.Session.
func (c *Client) MoveMember(ctx context.Context, memberID, channelID int64) error {
	return c.do(ctx, "move member", http.MethodPut,
		fmt.Sprintf("/guilds/%d/members/%d/channel", c.cfg.GuildID, memberID),
		map[string]int64{"channel_id": channelID}, nil)
}

// Disconnect implements platform.Session.
func (c *Client) Disconnect(ctx context.Context, memberID int64) error {
	return c.do(ctx, "disconnect", http.MethodDelete,
		fmt.Sprintf("/guilds/%d/members/%d/voice", c.cfg.GuildID, memberID), nil, nil)
}

// ChannelMembers implements platform.Session.
func (c *Client) ChannelMembers(ctx context.Context, channelID int64) ([]platform.Member, error) {
	var payload []memberPayload
	err := c.do(ctx, "channel members", http.MethodGet,
		fmt.Sprintf("/channels/%d/members", channelID), nil, &payload)
	if err != nil {
		return nil, err
	}

	members := make([]platform.Member, 0, len(payload))
	for _, m := range payload {
		members = append(members, platform.Member{ID: m.ID, Name: m.Name, Roles: m.Roles})
	}
	return members, nil
}

// Member implements platform.Session.
func (c *Client) Member(ctx context.Context, memberID int64) (*platform.Member, error) {
	var payload memberPayload
	err := c.do(ctx, "member", http.MethodGet,
		fmt.Sprintf("/guilds/%d/members/%d", c.cfg.GuildID, memberID), nil, &payload)
	if err != nil {
		return nil, err
	}
	return &platform.Member{ID: payload.ID, Name: payload.Name, Roles: payload.Roles}, nil
}

// do executes one request and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return platform.NewError(platform.KindTransient, op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return platform.NewError(platform.KindTransient, op, err)
	}
	req.Header.Set("Authorization", "Bot "+c.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return platform.NewError(platform.KindTransient, op, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(op, resp.StatusCode); err != nil {
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return platform.NewError(platform.KindTransient, op, err)
	}
	return nil
}

func classifyStatus(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return platform.NewError(platform.KindPermissionDenied, op, fmt.Errorf("status %d", status))
	case status == http.StatusNotFound:
		return platform.NewError(platform.KindNotFound, op, fmt.Errorf("status %d", status))
	default:
		return platform.NewError(platform.KindTransient, op, fmt.Errorf("status %d", status))
	}
}

var _ platform.Session = (*Client)(nil)
