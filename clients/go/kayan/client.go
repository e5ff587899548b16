// Package kayan provides a client for the Kayan Connect messaging API.
package kayan

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/api/middleware"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/crypto"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/models"
)

// GlobalConversation is the ID of the broadcast conversation.
const GlobalConversation = "00000000-0000-0000-0000-000000000001"

// Client is a Kayan Connect API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	UserID     string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	HTTPClient *http.Client
}

// Config holds the saved identity.
type Config struct {
	ID        string `json:"id"`
	PublicKey string `json:"public_key"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kayan error %d: %s", e.Status, e.Message)
}

// NewClient creates a new client and loads saved credentials when present.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("KAYAN_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".kayan")
	}

	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads credentials from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "profile.json"))
	if err != nil {
		return err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}

	keyData, err := os.ReadFile(filepath.Join(c.ConfigDir, "private.key"))
	if err != nil {
		return err
	}
	priv, err := crypto.ParsePrivateKey(strings.TrimSpace(string(keyData)))
	if err != nil {
		return err
	}

	c.UserID = cfg.ID
	c.PrivateKey = priv
	c.PublicKey = priv.Public().(ed25519.PublicKey)
	return nil
}

// SaveConfig saves credentials to disk. Only the key seed is written.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(Config{
		ID:        c.UserID,
		PublicKey: base64.StdEncoding.EncodeToString(c.PublicKey),
	}, "", "  ")
	if err := os.WriteFile(filepath.Join(c.ConfigDir, "profile.json"), data, 0600); err != nil {
		return err
	}

	seed := base64.StdEncoding.EncodeToString(c.PrivateKey.Seed())
	return os.WriteFile(filepath.Join(c.ConfigDir, "private.key"), []byte(seed), 0600)
}

// GenerateKeypair generates a new Ed25519 keypair.
func (c *Client) GenerateKeypair() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	c.PublicKey = pub
	c.PrivateKey = priv
	return nil
}

// signHeaders creates authentication headers for a request body.
func (c *Client) signHeaders(body []byte) (http.Header, error) {
	if c.PrivateKey == nil || c.UserID == "" {
		return nil, fmt.Errorf("not registered: run register first")
	}

	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, err
	}
	nonce := hex.EncodeToString(nonceBytes)
	ts := time.Now().UnixMilli()

	h := http.Header{}
	h.Set(middleware.HeaderUser, c.UserID)
	h.Set(middleware.HeaderNonce, nonce)
	h.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
	h.Set(middleware.HeaderSignature, crypto.Sign(c.PrivateKey, body, nonce, ts))
	return h, nil
}

// do performs a request and decodes the JSON answer into out.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, signed bool) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if signed {
		h, err := c.signHeaders(body)
		if err != nil {
			return err
		}
		req.Header = h
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// RegisterResponse is the response from registration.
type RegisterResponse struct {
	ID         string `json:"id"`
	ProfileURL string `json:"profile_url"`
}

// Register creates a keypair, registers it under name and saves the
// credentials.
func (c *Client) Register(ctx context.Context, name, avatarURL string) (*RegisterResponse, error) {
	if err := c.GenerateKeypair(); err != nil {
		return nil, err
	}

	var resp RegisterResponse
	err := c.do(ctx, http.MethodPost, "/register", map[string]string{
		"public_key":   base64.StdEncoding.EncodeToString(c.PublicKey),
		"display_name": name,
		"avatar_url":   avatarURL,
	}, &resp, false)
	if err != nil {
		return nil, err
	}

	c.UserID = resp.ID
	if err := c.SaveConfig(); err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}
	return &resp, nil
}

// Profile is a public profile.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	PublicKey   string `json:"public_key"`
	JoinedAt    string `json:"joined_at"`
}

// Who fetches a public profile.
func (c *Client) Who(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, http.MethodGet, "/who/"+url.PathEscape(userID), nil, &p, false); err != nil {
		return nil, err
	}
	return &p, nil
}

// Health returns the server health report. A degraded server answers
// with an *APIError.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var h map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h, false); err != nil {
		return nil, err
	}
	return h, nil
}

// Conversations lists the caller's private conversations.
func (c *Client) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// StartConversation finds or creates the conversation with userID. It
// returns the conversation id and whether it was created.
func (c *Client) StartConversation(ctx context.Context, userID string) (string, bool, error) {
	var resp struct {
		ID      string `json:"id"`
		Created bool   `json:"created"`
	}
	if err := c.do(ctx, http.MethodPost, "/conversations", map[string]string{"user_id": userID}, &resp, true); err != nil {
		return "", false, err
	}
	return resp.ID, resp.Created, nil
}

// Messages loads a thread, marking incoming messages read.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]models.ThreadMessage, error) {
	var resp struct {
		Messages []models.ThreadMessage `json:"messages"`
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Send posts a message to a conversation.
func (c *Client) Send(ctx context.Context, conversationID, content string) (*models.ThreadMessage, error) {
	var msg models.ThreadMessage
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"content": content}, &msg, true); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Reactions returns a message's reaction summary.
func (c *Client) Reactions(ctx context.Context, messageID string) ([]models.ReactionSummary, error) {
	var resp struct {
		Reactions []models.ReactionSummary `json:"reactions"`
	}
	path := "/messages/" + url.PathEscape(messageID) + "/reactions"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Reactions, nil
}

// React toggles the caller's emoji reaction on a message and reports whether
// it is present afterwards.
func (c *Client) React(ctx context.Context, messageID, emoji string) (bool, []models.ReactionSummary, error) {
	var resp struct {
		Present   bool                     `json:"present"`
		Reactions []models.ReactionSummary `json:"reactions"`
	}
	path := "/messages/" + url.PathEscape(messageID) + "/reactions"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"emoji": emoji}, &resp, true); err != nil {
		return false, nil, err
	}
	return resp.Present, resp.Reactions, nil
}

// Frame is one server frame of a stream.
type Frame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Stream is an open websocket stream.
type Stream struct {
	conn *websocket.Conn
}

// OpenStream opens a live stream. kind is "conversations", "thread" or
// "reactions"; id names the conversation or message for the latter two.
func (c *Client) OpenStream(ctx context.Context, kind, id string) (*Stream, error) {
	h, err := c.signHeaders(nil)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(c.BaseURL + "/stream")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := url.Values{"kind": {kind}}
	if id != "" {
		q.Set("id", id)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), h)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("open stream: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return &Stream{conn: conn}, nil
}

// Next blocks for the next frame.
func (s *Stream) Next() (*Frame, error) {
	var f Frame
	if err := s.conn.ReadJSON(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Send writes a message on a thread stream.
func (s *Stream) Send(content string) error {
	return s.conn.WriteJSON(map[string]string{"type": "send", "content": content})
}

// Toggle toggles a reaction on a reactions stream.
func (s *Stream) Toggle(emoji string) error {
	return s.conn.WriteJSON(map[string]string{"type": "toggle", "emoji": emoji})
}

// Close closes the stream.
func (s *Stream) Close() error {
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
