//Package history fetches conversation lists and message pages from the
//messaging REST API.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Tonyeligate/kelmah-messaging/lib/chat"
)

//Service is the request/response surface the synchronization core consumes.
type Service interface {
	GetConversations(ctx context.Context) ([]chat.Conversation, error)
	GetMessages(ctx context.Context, convID chat.ConversationID) ([]chat.Message, error)
	CreateDirectConversation(ctx context.Context, recipientID chat.UserID) (chat.Conversation, error)
}

//Client talks to the messaging REST API over HTTP.
type Client struct {
	BaseURL   string
	AuthToken string
	HTTP      *http.Client
}

//NewClient constructs a Client for the given API base URL.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		AuthToken: authToken,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var apiErr chat.APIerror
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Reason != "" {
			return fmt.Errorf("%s %s: %w", method, path, apiErr)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

//GetConversations fetches the caller's conversation list, most recent first.
func (c *Client) GetConversations(ctx context.Context) (conversations []chat.Conversation, err error) {
	err = c.do(ctx, "GET", "/conversations", nil, &conversations)
	return
}

//GetMessages fetches the current page of a conversation's history.
func (c *Client) GetMessages(ctx context.Context, convID chat.ConversationID) (messages []chat.Message, err error) {
	err = c.do(ctx, "GET", "/conversations/"+url.PathEscape(string(convID))+"/messages", nil, &messages)
	return
}

//CreateDirectConversation creates (or returns the existing) one-to-one
//conversation with the recipient.
func (c *Client) CreateDirectConversation(ctx context.Context, recipientID chat.UserID) (conversation chat.Conversation, err error) {
	payload := fmt.Sprintf(`{"recipientId":%q}`, recipientID)
	err = c.do(ctx, "POST", "/conversations/direct", strings.NewReader(payload), &conversation)
	return
}
