// Package relay provides a client for the realtimechat room relay.
//
// The relay identifies members by an opaque token carried in the
// x-auth-token cookie. The client keeps that cookie in a jar and can persist
// it so separate invocations act as the same member.
package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// AuthCookie is the cookie that carries the membership token.
const AuthCookie = "x-auth-token"

// Client is a relay API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	HTTPClient *http.Client

	base *url.URL
	jar  *cookiejar.Jar
}

// Config holds persisted client state.
type Config struct {
	Token string `json:"token"`
}

// APIError is a non-2xx response from the relay.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.Status, e.Message)
}

// NewClient creates a new relay client.
func NewClient(baseURL string) (*Client, error) {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	configDir := os.Getenv("REALTIMECHAT_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".realtimechat")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		BaseURL:    base.String(),
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second, Jar: jar},
		base:       base,
		jar:        jar,
	}, nil
}

// Token returns the membership token currently held, if any.
func (c *Client) Token() string {
	for _, cookie := range c.jar.Cookies(c.base) {
		if cookie.Name == AuthCookie {
			return cookie.Value
		}
	}
	return ""
}

// SetToken makes the client act as the member owning token.
func (c *Client) SetToken(token string) {
	c.jar.SetCookies(c.base, []*http.Cookie{{Name: AuthCookie, Value: token, Path: "/"}})
}

// LoadConfig restores the membership token from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "client.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}
	if config.Token != "" {
		c.SetToken(config.Token)
	}
	return nil
}

// SaveConfig writes the membership token to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(Config{Token: c.Token()}, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "client.json"), data, 0600)
}

// doRequest performs an HTTP request and returns the body of a 2xx response.
func (c *Client) doRequest(method, path string, body any) ([]byte, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		json.Unmarshal(respBody, &errResp)
		msg := errResp.Error
		if errResp.Message != "" {
			msg += ": " + errResp.Message
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}

	return respBody, nil
}

func roomQuery(roomID string) string {
	return "?roomId=" + url.QueryEscape(roomID)
}

// CreateRoomRequest is the request body for creating a room. Zero values
// use the server defaults.
type CreateRoomRequest struct {
	TTL      int `json:"ttl,omitempty"`
	Capacity int `json:"capacity,omitempty"`
}

// CreateRoomResponse is the response from creating a room.
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

// CreateRoom creates a room living ttl seconds with room for capacity members.
func (c *Client) CreateRoom(ttl, capacity int) (*CreateRoomResponse, error) {
	respBody, err := c.doRequest(http.MethodPost, "/room/create", CreateRoomRequest{TTL: ttl, Capacity: capacity})
	if err != nil {
		return nil, err
	}

	var resp CreateRoomResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JoinResponse is the response from joining a room.
type JoinResponse struct {
	RoomID string `json:"roomId"`
	Status string `json:"status"`
}

// Join asks for admission to a room. The server mints a token on first use.
func (c *Client) Join(roomID string) (*JoinResponse, error) {
	respBody, err := c.doRequest(http.MethodPost, "/room/join"+roomQuery(roomID), nil)
	if err != nil {
		return nil, err
	}

	var resp JoinResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TTL returns the seconds left before the room expires.
func (c *Client) TTL(roomID string) (int64, error) {
	respBody, err := c.doRequest(http.MethodGet, "/room/ttl"+roomQuery(roomID), nil)
	if err != nil {
		return 0, err
	}

	var resp struct {
		TTL int64 `json:"ttl"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, err
	}
	return resp.TTL, nil
}

// Destroy deletes the room for every member.
func (c *Client) Destroy(roomID string) error {
	_, err := c.doRequest(http.MethodDelete, "/room"+roomQuery(roomID), nil)
	return err
}

// Message represents a relayed message. Token is only present on the
// caller's own messages.
type Message struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Token     string `json:"token,omitempty"`
}

// PostMessageRequest is the request body for posting a message.
type PostMessageRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// PostMessage posts a message. Text should already be encrypted.
func (c *Client) PostMessage(roomID, sender, text string) error {
	_, err := c.doRequest(http.MethodPost, "/messages"+roomQuery(roomID), PostMessageRequest{Sender: sender, Text: text})
	return err
}

// Typing sends a typing indicator.
func (c *Client) Typing(roomID, username string, isTyping bool) error {
	body := struct {
		Username string `json:"username"`
		IsTyping bool   `json:"isTyping"`
	}{username, isTyping}
	_, err := c.doRequest(http.MethodPost, "/messages/typing"+roomQuery(roomID), body)
	return err
}

// GetMessages returns the room history in posting order.
func (c *Client) GetMessages(roomID string) ([]Message, error) {
	respBody, err := c.doRequest(http.MethodGet, "/messages"+roomQuery(roomID), nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// DeleteMessage removes a message from the room.
func (c *Client) DeleteMessage(roomID, messageID string) error {
	path := "/messages" + roomQuery(roomID) + "&messageId=" + url.QueryEscape(messageID)
	_, err := c.doRequest(http.MethodDelete, path, nil)
	return err
}

// Event is a realtime notification from a room.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Watch streams room events to fn until fn returns false, the room is
// destroyed, or the connection drops.
func (c *Client) Watch(roomID string, fn func(Event) bool) error {
	wsURL := *c.base
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + "/room/events"
	wsURL.RawQuery = "roomId=" + url.QueryEscape(roomID)

	dialer := websocket.Dialer{Jar: c.jar, HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return err
	}
	defer conn.Close()

	for {
		var evt Event
		if err := conn.ReadJSON(&evt); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if !fn(evt) {
			return nil
		}
	}
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Store     string `json:"store"`
	LiveRooms int    `json:"liveRooms"`
	Checks    map[string]struct {
		Status  string `json:"status"`
		Latency string `json:"latency,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"checks"`
	Timestamp string `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	respBody, err := c.doRequest(http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
