// Package telegram is the outbound notification and inbound command
// channel. One configured chat id is authoritative: messages from any
// other chat are dropped, and every notification lands in that chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"ain/internal/config"
	"ain/internal/logging"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	// maxMessageLen keeps outbound text under the 4096-char API cap.
	maxMessageLen = 3900
)

// Message is one inbound chat message.
type Message struct {
	UpdateID int64
	ChatID   int64
	Text     string
}

// Client long-polls getUpdates and posts sendMessage. A disabled
// client (no token) is a quiet no-op so the engine runs without a
// messaging channel.
type Client struct {
	apiBase     string
	token       string
	chatID      int64
	pollTimeout time.Duration
	httpClient  *http.Client

	mu     sync.Mutex
	offset int64
}

// New builds a client from config. An empty token yields a disabled
// client, not an error.
func New(cfg config.TelegramConfig, pollTimeout time.Duration) (*Client, error) {
	if cfg.Token == "" {
		logging.Telegram("no token configured: messaging disabled")
		return Disabled(), nil
	}

	transport := &http.Transport{}
	if cfg.Proxy != "" {
		dialer, err := proxy.SOCKS5("tcp", cfg.Proxy, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy %s: %w", cfg.Proxy, err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
		logging.Telegram("routing through socks5 proxy %s", cfg.Proxy)
	}

	return &Client{
		apiBase:     defaultAPIBase,
		token:       cfg.Token,
		chatID:      cfg.ChatID,
		pollTimeout: pollTimeout,
		httpClient: &http.Client{
			Timeout:   pollTimeout + 15*time.Second,
			Transport: transport,
		},
	}, nil
}

// Disabled returns the no-op client.
func Disabled() *Client {
	return &Client{}
}

// Enabled reports whether a token is configured.
func (c *Client) Enabled() bool {
	return c.token != ""
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message,omitempty"`
}

type sendRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// =============================================================================
// POLLING
// =============================================================================

// Poll long-polls for new messages from the configured chat. The
// offset is bumped past every received update, matching or not, so no
// update is ever replayed.
func (c *Client) Poll(ctx context.Context) ([]Message, error) {
	if !c.Enabled() {
		return nil, nil
	}

	c.mu.Lock()
	offset := c.offset
	c.mu.Unlock()

	url := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d&timeout=%d",
		c.apiBase, c.token, offset, int(c.pollTimeout.Seconds()))
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("build getUpdates: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getUpdates: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read getUpdates: %w", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse getUpdates: %w", err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("getUpdates rejected: %s", envelope.Description)
	}

	var updates []update
	if err := json.Unmarshal(envelope.Result, &updates); err != nil {
		return nil, fmt.Errorf("parse updates: %w", err)
	}

	var out []Message
	for _, u := range updates {
		c.bumpOffset(u.UpdateID)
		if u.Message == nil || u.Message.Text == "" {
			continue
		}
		if c.chatID != 0 && u.Message.Chat.ID != c.chatID {
			logging.TelegramDebug("dropping message from foreign chat %d", u.Message.Chat.ID)
			continue
		}
		out = append(out, Message{
			UpdateID: u.UpdateID,
			ChatID:   u.Message.Chat.ID,
			Text:     u.Message.Text,
		})
	}
	if len(out) > 0 {
		logging.Telegram("received %d message(s)", len(out))
	}
	return out, nil
}

func (c *Client) bumpOffset(updateID int64) {
	c.mu.Lock()
	if updateID >= c.offset {
		c.offset = updateID + 1
	}
	c.mu.Unlock()
}

// =============================================================================
// SENDING
// =============================================================================

// Send posts text to the configured chat. Text above 3900 characters
// is truncated. A parse-mode rejection is retried once as plain text.
func (c *Client) Send(ctx context.Context, text string) error {
	if !c.Enabled() {
		logging.TelegramDebug("messaging disabled, dropping outbound: %.60s", text)
		return nil
	}

	text = Truncate(text)
	err := c.post(ctx, sendRequest{
		ChatID:                c.chatID,
		Text:                  text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	})
	if err == nil {
		return nil
	}

	logging.Get(logging.CategoryTelegram).Warn("send with parse_mode failed (%v), retrying plain", err)
	return c.post(ctx, sendRequest{
		ChatID:                c.chatID,
		Text:                  text,
		DisableWebPagePreview: true,
	})
}

func (c *Client) post(ctx context.Context, body sendRequest) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal sendMessage: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.apiBase, c.token)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("build sendMessage: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sendMessage: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read sendMessage: %w", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("parse sendMessage (status %d): %w", resp.StatusCode, err)
	}
	if !envelope.OK {
		return fmt.Errorf("sendMessage rejected (status %d): %s", resp.StatusCode, envelope.Description)
	}
	return nil
}

// Truncate cuts text to the outbound message cap.
func Truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxMessageLen {
		return text
	}
	return string(runes[:maxMessageLen])
}
