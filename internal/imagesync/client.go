package imagesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/moochie/internal/room"
	"go.uber.org/zap"
)

const (
	// MaxUploadBytes is the largest image accepted for upload.
	MaxUploadBytes = 10 * 1024 * 1024

	defaultTimeout      = 60 * time.Second
	maxResponseBytes    = 1 << 20
	timeoutMessage      = "Server timeout. Please check your internet connection or try again later."
	prepareMessage      = "Error: Could not prepare image for upload"
	tooLargeMessage     = "Image is too large. Please select a smaller image."
	uploadFailedPrefix  = "Upload failed: "
	fetchFailedPrefix   = "Failed to fetch image: "
	parseFailedPrefix   = "Error parsing response: "
	invalidCodeTemplate = "Invalid code: %s"
)

type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Client talks to the external image-by-code server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	clock      func() time.Time
	logger     *zap.Logger
}

// UploadResult is the server's answer to an upload.
type UploadResult struct {
	ImageURL string
	Code     string
}

// FetchResult is the current image for a code. Timestamp is an opaque
// change token compared only for equality.
type FetchResult struct {
	ImageURL  string
	Code      string
	Timestamp string
}

type imageResponse struct {
	Code      *string         `json:"code"`
	ImageURL  *string         `json:"imageUrl"`
	Timestamp json.RawMessage `json:"timestamp"`
}

func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("imagesync: base url required")
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

// Upload sends the image at path for the room code.
func (c *Client) Upload(ctx context.Context, roomCode string, path string) (UploadResult, error) {
	code, err := room.NewCode(roomCode)
	if err != nil {
		return UploadResult{}, &Error{Kind: KindValidation, Message: fmt.Sprintf(invalidCodeTemplate, roomCode), Err: err}
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		c.logger.Warn("file does not exist or is empty", zap.String("path", path))
		return UploadResult{}, &Error{Kind: KindValidation, Message: prepareMessage, Err: err}
	}
	if info.Size() > MaxUploadBytes {
		return UploadResult{}, &Error{Kind: KindValidation, Message: tooLargeMessage}
	}

	body, contentType, err := buildUploadBody(path, code.String())
	if err != nil {
		return UploadResult{}, &Error{Kind: KindValidation, Message: prepareMessage, Err: err}
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", body)
	if err != nil {
		return UploadResult{}, &Error{Kind: KindNetwork, Message: uploadFailedPrefix + err.Error(), Err: err}
	}
	request.Header.Set("Content-Type", contentType)

	c.logger.Debug("uploading image", zap.String("code", code.String()), zap.Int64("size", info.Size()))
	payload, err := c.do(request, uploadFailedPrefix)
	if err != nil {
		return UploadResult{}, err
	}
	returnedCode, imageURL, _, err := c.parse(payload)
	if err != nil {
		return UploadResult{}, err
	}
	return UploadResult{ImageURL: imageURL, Code: returnedCode}, nil
}

// FetchByCode asks for the current image of the room code, bypassing caches.
func (c *Client) FetchByCode(ctx context.Context, roomCode string) (FetchResult, error) {
	code, err := room.NewCode(roomCode)
	if err != nil {
		return FetchResult{}, &Error{Kind: KindValidation, Message: fmt.Sprintf(invalidCodeTemplate, roomCode), Err: err}
	}
	nowMillis := strconv.FormatInt(c.clock().UnixMilli(), 10)
	endpoint := c.baseURL + "/api/images/" + code.String() + "?t=" + nowMillis

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FetchResult{}, &Error{Kind: KindNetwork, Message: fetchFailedPrefix + err.Error(), Err: err}
	}
	request.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	request.Header.Set("Pragma", "no-cache")
	request.Header.Set("X-Requested-With", nowMillis)

	payload, err := c.do(request, fetchFailedPrefix)
	if err != nil {
		return FetchResult{}, err
	}
	returnedCode, imageURL, timestamp, err := c.parse(payload)
	if err != nil {
		return FetchResult{}, err
	}
	return FetchResult{ImageURL: imageURL, Code: returnedCode, Timestamp: timestamp}, nil
}

func (c *Client) do(request *http.Request, failurePrefix string) ([]byte, error) {
	response, err := c.httpClient.Do(request)
	if err != nil {
		if isTimeout(err) {
			return nil, &Error{Kind: KindTimeout, Message: timeoutMessage, Err: err}
		}
		return nil, &Error{Kind: KindNetwork, Message: failurePrefix + err.Error(), Err: err}
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, &Error{Kind: KindTimeout, Message: timeoutMessage, Err: err}
		}
		return nil, &Error{Kind: KindNetwork, Message: failurePrefix + err.Error(), Err: err}
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		detail := strings.TrimSpace(string(payload))
		if detail == "" {
			detail = http.StatusText(response.StatusCode)
		}
		c.logger.Warn("image server error response", zap.Int("status", response.StatusCode), zap.String("body", detail))
		return nil, &Error{Kind: KindStatus, Message: failurePrefix + detail, StatusCode: response.StatusCode}
	}
	return payload, nil
}

func (c *Client) parse(payload []byte) (string, string, string, error) {
	var decoded imageResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", "", "", &Error{Kind: KindParse, Message: parseFailedPrefix + err.Error(), Err: err}
	}
	if decoded.Code == nil {
		err := errors.New("missing code")
		return "", "", "", &Error{Kind: KindParse, Message: parseFailedPrefix + err.Error(), Err: err}
	}
	imageURL := c.baseURL + "/api/images/" + *decoded.Code
	if decoded.ImageURL != nil {
		imageURL = c.baseURL + *decoded.ImageURL
	}
	timestamp, err := opaqueToken(decoded.Timestamp)
	if err != nil {
		return "", "", "", &Error{Kind: KindParse, Message: parseFailedPrefix + err.Error(), Err: err}
	}
	return *decoded.Code, imageURL, timestamp, nil
}

// opaqueToken renders a JSON string or number as text; absent or null is "".
func opaqueToken(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return "", err
		}
		return value, nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return "", fmt.Errorf("timestamp must be a string or number: %w", err)
	}
	return number.String(), nil
}

func buildUploadBody(path string, code string) (*bytes.Buffer, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="image.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("code", code); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
