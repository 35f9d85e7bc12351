// Package api is the HTTP client for the chat REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chatsync/internal/app/normalize"
	"chatsync/internal/domain/chat"
)

// Client calls the REST API on behalf of one user.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Logger  *slog.Logger
}

func New(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
		Logger:  logger,
	}
}

type startConversationRequest struct {
	ListingID string `json:"listingId"`
	BuyerID   string `json:"buyerId"`
	SellerID  string `json:"sellerId"`
}

type sendMessageRequest struct {
	SenderID      string `json:"senderId"`
	Content       string `json:"content,omitempty"`
	AttachmentURL string `json:"attachmentUrl,omitempty"`
}

// ListConversations fetches one page of filter. Records that cannot be decoded
// are dropped and counted in the second result.
func (c *Client) ListConversations(ctx context.Context, filter chat.FilterKey, page, size int) ([]normalize.RawConversation, int, error) {
	q := url.Values{}
	q.Set("filter", filter.QueryValue())
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	if listingID, ok := filter.ListingID(); ok {
		q.Set("listingId", listingID)
	}
	var out []normalize.RawConversation
	list := listOf(&out, "conversations")
	if err := c.do(ctx, http.MethodGet, "/conversations", q, nil, list); err != nil {
		return nil, 0, err
	}
	c.logDropped("/conversations", list.dropped)
	return out, list.dropped, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, page, size int) ([]normalize.RawMessage, int, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	path := conversationPath(conversationID, "messages")
	var out []normalize.RawMessage
	list := listOf(&out, "messages")
	if err := c.do(ctx, http.MethodGet, path, q, nil, list); err != nil {
		return nil, 0, err
	}
	c.logDropped(path, list.dropped)
	return out, list.dropped, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID, senderID, text, attachmentURL string) (normalize.RawMessage, error) {
	q := url.Values{}
	q.Set("senderId", senderID)
	body := sendMessageRequest{SenderID: senderID, Content: text, AttachmentURL: attachmentURL}
	var out normalize.RawMessage
	if err := c.do(ctx, http.MethodPost, conversationPath(conversationID, "messages"), q, body, &out); err != nil {
		return normalize.RawMessage{}, err
	}
	return out, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPut, conversationPath(conversationID, "read"), nil, nil, nil)
}

func (c *Client) MarkUnread(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPut, conversationPath(conversationID, "unread"), nil, nil, nil)
}

func (c *Client) Archive(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPut, conversationPath(conversationID, "archive"), nil, nil, nil)
}

func (c *Client) Unarchive(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPut, conversationPath(conversationID, "unarchive"), nil, nil, nil)
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, conversationPath(conversationID, ""), nil, nil, nil)
}

func (c *Client) StartConversation(ctx context.Context, listingID, buyerID, sellerID string) (normalize.RawConversation, error) {
	body := startConversationRequest{ListingID: listingID, BuyerID: buyerID, SellerID: sellerID}
	var out normalize.RawConversation
	if err := c.do(ctx, http.MethodPost, "/conversations", nil, body, &out); err != nil {
		return normalize.RawConversation{}, err
	}
	return out, nil
}

// UnreadCounts returns the unread count per filter key.
func (c *Client) UnreadCounts(ctx context.Context) (map[chat.FilterKey]int, error) {
	var raw map[string]json.Number
	if err := c.do(ctx, http.MethodGet, "/notifications/unread-counts", nil, nil, &raw); err != nil {
		return nil, err
	}
	out := make(map[chat.FilterKey]int, len(raw))
	for key, value := range raw {
		n, err := value.Int64()
		if err != nil {
			return nil, fmt.Errorf("unread count %q: %w", key, chat.ErrMalformed)
		}
		out[chat.FilterKey(key)] = int(n)
	}
	return out, nil
}

func (c *Client) ListNotifications(ctx context.Context) ([]normalize.RawNotification, int, error) {
	var out []normalize.RawNotification
	list := listOf(&out, "notifications")
	if err := c.do(ctx, http.MethodGet, "/notifications", nil, nil, list); err != nil {
		return nil, 0, err
	}
	c.logDropped("/notifications", list.dropped)
	return out, list.dropped, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/notifications/"+url.PathEscape(id)+"/read", nil, nil, nil)
}

func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) Like(ctx context.Context, listingID string) error {
	return c.do(ctx, http.MethodPost, "/listings/"+url.PathEscape(listingID)+"/like", nil, nil, nil)
}

func (c *Client) Unlike(ctx context.Context, listingID string) error {
	return c.do(ctx, http.MethodDelete, "/listings/"+url.PathEscape(listingID)+"/like", nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil || c.HTTP == nil {
		return errors.New("api: http client not configured")
	}
	target := c.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.logError("api request failed", method, path, err)
		return fmt.Errorf("api: %s %s: %w: %w", method, path, chat.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		c.logError("api returned error", method, path, statusErr)
		return statusErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		c.logError("api decode failed", method, path, err)
		return fmt.Errorf("api: decode %s %s: %w: %w", method, path, chat.ErrMalformed, err)
	}
	return nil
}

func (c *Client) logError(msg, method, path string, err error) {
	if c.Logger == nil {
		return
	}
	c.Logger.Warn(msg, "method", method, "path", path, "error", err)
}

func (c *Client) logDropped(path string, dropped int) {
	if c.Logger == nil || dropped == 0 {
		return
	}
	c.Logger.Warn("api dropped undecodable records", "path", path, "dropped", dropped)
}

func conversationPath(id, action string) string {
	p := "/conversations/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}
