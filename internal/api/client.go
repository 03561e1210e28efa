package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/rentline/rentchat/internal/auth"
	"github.com/rentline/rentchat/internal/store"
)

// Client talks to the chat REST surface. Both transports route their fetch
// and send paths through it.
type Client struct {
	base     string
	http     *http.Client
	tokens   auth.TokenSource
	validate *validator.Validate
	log      zerolog.Logger
}

func NewClient(base string, tokens auth.TokenSource, log zerolog.Logger) *Client {
	return &Client{
		base:     base,
		http:     &http.Client{Timeout: 15 * time.Second},
		tokens:   tokens,
		validate: validator.New(),
		log:      log.With().Str("component", "api").Logger(),
	}
}

// SendRequest is the POST /chat/send body.
type SendRequest struct {
	SenderID   string `json:"sender_id" validate:"required"`
	ReceiverID string `json:"receiver_id" validate:"required"`
	Content    string `json:"content" validate:"required"`
}

// ThreadSnapshot is the GET /chat/conversation/{a}/{b} response.
type ThreadSnapshot struct {
	ConversationID string          `json:"conversation_id"`
	OtherUser      store.User      `json:"other_user"`
	Messages       []store.Message `json:"messages"`
	OtherTyping    bool            `json:"other_typing"`
}

type conversationsResp struct {
	Conversations []store.Conversation `json:"conversations"`
}

// Conversations fetches the ordered conversation list for a user.
func (c *Client) Conversations(ctx context.Context, userID string, page, limit int) ([]store.Conversation, error) {
	var out conversationsResp
	p := fmt.Sprintf("/chat/conversations/%s?page=%d&limit=%d", url.PathEscape(userID), page, limit)
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// OpenConversation resolves (or creates) the conversation between two users
// and returns its most recent page of messages.
func (c *Client) OpenConversation(ctx context.Context, selfID, otherID string, page, limit int) (*ThreadSnapshot, error) {
	var out ThreadSnapshot
	p := fmt.Sprintf("/chat/conversation/%s/%s?page=%d&limit=%d",
		url.PathEscape(selfID), url.PathEscape(otherID), page, limit)
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send posts a message and returns the server-confirmed copy.
func (c *Client) Send(ctx context.Context, req SendRequest) (*store.Message, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, errors.Wrap(err, "invalid send request")
	}
	var out store.Message
	if err := c.do(ctx, http.MethodPost, "/chat/send", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkRead acknowledges one message as read by the signed-in user.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	p := fmt.Sprintf("/chat/message/%s/read", url.PathEscape(messageID))
	return c.do(ctx, http.MethodPatch, p, nil, nil)
}

// Search filters conversations server-side by participant name or message
// content.
func (c *Client) Search(ctx context.Context, query string) ([]store.Conversation, error) {
	var out conversationsResp
	p := "/chat/search?query=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.tokens.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return auth.ErrUnauthorized
	case resp.StatusCode >= 400:
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return errors.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, e.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}
