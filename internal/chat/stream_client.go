package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

var errMissingStreamURL = errors.New("chat: stream base url required")

// StreamFrame is the payload of one server push on a room stream.
type StreamFrame struct {
	Type     string    `json:"type"`
	RoomCode string    `json:"roomCode"`
	Messages []Message `json:"messages"`
}

// FrameTypeSnapshot marks an event carrying the full ordered room list.
const FrameTypeSnapshot = "snapshot"

type StreamClientConfig struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// StreamClient follows a room over the backend event stream.
type StreamClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

func NewStreamClient(cfg StreamClientConfig) (*StreamClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errMissingStreamURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamClient{
		baseURL:     base,
		accessToken: cfg.AccessToken,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// Follow calls onUpdate with every snapshot the server sends for the room
// until ctx ends or the server closes the stream.
func (c *StreamClient) Follow(ctx context.Context, roomCode string, onUpdate func([]Message)) error {
	if onUpdate == nil {
		return ErrNilCallback
	}
	endpoint := c.baseURL + "/chats/" + url.PathEscape(roomCode) + "/stream"
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("chat: stream request: %w", err)
	}
	request.Header.Set("Accept", "text/event-stream")
	if c.accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("chat: open stream: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("chat: open stream: unexpected status %d", response.StatusCode)
	}

	reader := bufio.NewReader(response.Body)
	eventType := ""
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("chat: read stream: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			eventType = ""
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if eventType != FrameTypeSnapshot {
				c.logger.Debug("ignoring stream event", zap.String("event", eventType))
				continue
			}
			var frame StreamFrame
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &frame); err != nil {
				return fmt.Errorf("chat: decode stream frame: %w", err)
			}
			messages := frame.Messages
			if messages == nil {
				messages = []Message{}
			}
			onUpdate(messages)
		}
	}
}
