package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/moochie/internal/chat"
	"github.com/MarcoPoloResearchLab/moochie/internal/session"
	"go.uber.org/zap"
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 1 << 20
)

var (
	errMissingBaseURL = errors.New("apiclient: base url required")
	errMissingToken   = errors.New("apiclient: access token required")
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	StatusCode int
	Code       string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("apiclient: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("apiclient: %s (status %d)", e.Code, e.StatusCode)
}

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Client calls the Moochie backend on behalf of the agent.
type Client struct {
	baseURL    string
	httpClient *http.Client
	clock      func() time.Time
	logger     *zap.Logger
}

// NotificationEvent is a notification posted by this device.
type NotificationEvent struct {
	PackageName    string `json:"packageName"`
	AppName        string `json:"appName"`
	Title          string `json:"title"`
	Text           string `json:"text"`
	PostTimeMillis int64  `json:"postTime"`
}

// IngestOutcome is the backend's verdict on a posted notification.
type IngestOutcome struct {
	Status   string `json:"status"`
	Reason   string `json:"reason"`
	RecordID string `json:"recordId"`
}

type signInResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Profile     struct {
		UserID      string `json:"user_id"`
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		AvatarURL   string `json:"avatar_url"`
	} `json:"profile"`
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: base, httpClient: httpClient, clock: clock, logger: logger}, nil
}

// SignIn exchanges a Google ID token for a backend session.
func (c *Client) SignIn(ctx context.Context, idToken string) (session.Session, error) {
	var response signInResponse
	if err := c.call(ctx, http.MethodPost, "/auth/google", "", map[string]string{"id_token": idToken}, &response); err != nil {
		return session.Session{}, err
	}
	return session.Session{
		UserID:      response.Profile.UserID,
		Email:       response.Profile.Email,
		DisplayName: response.Profile.DisplayName,
		PhotoURL:    response.Profile.AvatarURL,
		LoggedIn:    true,
		AccessToken: response.AccessToken,
		ExpiresAt:   c.clock().Add(time.Duration(response.ExpiresIn) * time.Second),
	}, nil
}

// PostNotification mirrors one device notification.
func (c *Client) PostNotification(ctx context.Context, accessToken string, event NotificationEvent) (IngestOutcome, error) {
	var outcome IngestOutcome
	err := c.call(ctx, http.MethodPost, "/notifications/events", accessToken, event, &outcome)
	return outcome, err
}

// SendChatMessage posts text to the room.
func (c *Client) SendChatMessage(ctx context.Context, accessToken, roomCode, text string) (chat.Message, error) {
	var message chat.Message
	path := "/chats/" + strings.TrimSpace(roomCode) + "/messages"
	err := c.call(ctx, http.MethodPost, path, accessToken, map[string]string{"text": text}, &message)
	return message, err
}

func (c *Client) call(ctx context.Context, method, path, accessToken string, body any, out any) error {
	if path != "/auth/google" && accessToken == "" {
		return errMissingToken
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &failure)
		c.logger.Debug("backend error response", zap.String("path", path), zap.Int("status", response.StatusCode))
		return &StatusError{StatusCode: response.StatusCode, Code: failure.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
