package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/moochie/internal/auth"
	"github.com/MarcoPoloResearchLab/moochie/internal/capture"
	"github.com/MarcoPoloResearchLab/moochie/internal/chat"
	"github.com/MarcoPoloResearchLab/moochie/internal/notifications"
	"github.com/MarcoPoloResearchLab/moochie/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const principalContextKey = "moochie_principal"

var (
	errMissingGoogleVerifier   = errors.New("google verifier dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingIdentityResolver = errors.New("identity resolver dependency required")
	errMissingCapture          = errors.New("notification capture dependency required")
	errMissingNotifications    = errors.New("notification store dependency required")
	errMissingChatRooms        = errors.New("chat rooms dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, principal auth.Principal) (string, int64, error)
	ValidateToken(token string) (auth.Principal, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, claims auth.GoogleClaims) (users.Identity, error)
}

// NotificationCapture accepts events posted by a device.
type NotificationCapture interface {
	OnNotificationPosted(ctx context.Context, event capture.Event) capture.Outcome
}

type NotificationStore interface {
	List(ctx context.Context) ([]notifications.Record, error)
	ClearForUser(ctx context.Context, userID string) (int64, error)
}

type ChatRooms interface {
	Send(ctx context.Context, author chat.Author, roomCode string, text string) (chat.Message, error)
	List(ctx context.Context, roomCode string) ([]chat.Message, error)
	Subscribe(roomCode string, onUpdate func([]chat.Message)) (chat.ListenerHandle, error)
	Unsubscribe(roomCode string, handle chat.ListenerHandle)
}

type Dependencies struct {
	GoogleVerifier   GoogleVerifier
	TokenManager     BackendTokenManager
	IdentityResolver IdentityResolver
	Capture          NotificationCapture
	Notifications    NotificationStore
	ChatRooms        ChatRooms
	AllowedOrigins   []string
	Clock            func() time.Time
	Logger           *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.GoogleVerifier == nil {
		return nil, errMissingGoogleVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.IdentityResolver == nil {
		return nil, errMissingIdentityResolver
	}
	if deps.Capture == nil {
		return nil, errMissingCapture
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}
	if deps.ChatRooms == nil {
		return nil, errMissingChatRooms
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		verifier:      deps.GoogleVerifier,
		tokens:        deps.TokenManager,
		identities:    deps.IdentityResolver,
		capture:       deps.Capture,
		notifications: deps.Notifications,
		chatRooms:     deps.ChatRooms,
		clock:         clock,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/google", handler.handleGoogleAuth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/notifications/events", handler.handleNotificationEvent)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.DELETE("/notifications", handler.handleClearNotifications)
	protected.POST("/chats/:code/messages", handler.handleSendChatMessage)
	protected.GET("/chats/:code/messages", handler.handleListChatMessages)
	protected.GET("/chats/:code/stream", handler.handleChatStream)

	return router, nil
}

type httpHandler struct {
	verifier      GoogleVerifier
	tokens        BackendTokenManager
	identities    IdentityResolver
	capture       NotificationCapture
	notifications NotificationStore
	chatRooms     ChatRooms
	clock         func() time.Time
	logger        *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type authRequestPayload struct {
	IDToken string `json:"id_token"`
}

type profilePayload struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

type authResponsePayload struct {
	AccessToken string         `json:"access_token"`
	ExpiresIn   int64          `json:"expires_in"`
	TokenType   string         `json:"token_type"`
	Profile     profilePayload `json:"profile"`
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	identity, err := h.identities.Resolve(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to resolve identity", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_resolution_failed"})
		return
	}

	principal := auth.Principal{
		UserID:      identity.UserID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
	}
	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), principal)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Profile: profilePayload{
			UserID:      principal.UserID,
			Email:       principal.Email,
			DisplayName: principal.DisplayName,
			AvatarURL:   principal.AvatarURL,
		},
	})
}

type notificationEventPayload struct {
	PackageName    string `json:"packageName"`
	AppName        string `json:"appName"`
	Title          string `json:"title"`
	Text           string `json:"text"`
	PostTimeMillis int64  `json:"postTime"`
}

type notificationOutcomePayload struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	RecordID string `json:"recordId,omitempty"`
}

func (h *httpHandler) handleNotificationEvent(c *gin.Context) {
	principal := principalFrom(c)

	var request notificationEventPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.PackageName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	postedAt := h.clock()
	if request.PostTimeMillis > 0 {
		postedAt = time.UnixMilli(request.PostTimeMillis)
	}

	ctx := capture.ContextWithOwner(c.Request.Context(), capture.Owner{
		UserID: principal.UserID,
		Email:  principal.Email,
	})
	outcome := h.capture.OnNotificationPosted(ctx, capture.Event{
		PackageName: request.PackageName,
		AppName:     request.AppName,
		Title:       request.Title,
		Text:        request.Text,
		PostTime:    postedAt,
	})

	response := notificationOutcomePayload{Status: string(outcome.Status), Reason: outcome.Reason}
	if outcome.Record != nil {
		response.RecordID = outcome.Record.RecordID
	}
	c.JSON(http.StatusAccepted, response)
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	records, err := h.notifications.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	if records == nil {
		records = []notifications.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": records})
}

func (h *httpHandler) handleClearNotifications(c *gin.Context) {
	principal := principalFrom(c)
	deleted, err := h.notifications.ClearForUser(c.Request.Context(), principal.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "clear_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

type chatMessageRequestPayload struct {
	Text string `json:"text"`
}

func (h *httpHandler) handleSendChatMessage(c *gin.Context) {
	principal := principalFrom(c)

	var request chatMessageRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	message, err := h.chatRooms.Send(c.Request.Context(), chat.Author{
		UserID:      principal.UserID,
		DisplayName: principal.DisplayName,
	}, c.Param("code"), request.Text)
	if err != nil {
		status, code := chatErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("failed to send chat message", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": code})
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (h *httpHandler) handleListChatMessages(c *gin.Context) {
	messages, err := h.chatRooms.List(c.Request.Context(), c.Param("code"))
	if err != nil {
		status, code := chatErrorStatus(err)
		c.JSON(status, gin.H{"error": code})
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func chatErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrInvalidRoomCode):
		return http.StatusBadRequest, "invalid_room_code"
	case errors.Is(err, chat.ErrEmptyText):
		return http.StatusBadRequest, "empty_text"
	case errors.Is(err, chat.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthorized"
	default:
		return http.StatusInternalServerError, "chat_failed"
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	principal, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(principalContextKey, principal)
	c.Next()
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter for EventSource clients that cannot set headers.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return "", false
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		return token, token != ""
	}
	token := strings.TrimSpace(c.Query(accessTokenQueryKey))
	return token, token != ""
}

func principalFrom(c *gin.Context) auth.Principal {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return auth.Principal{}
	}
	principal, _ := value.(auth.Principal)
	return principal
}
