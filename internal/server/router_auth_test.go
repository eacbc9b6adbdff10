package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/moochie/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// tokenTable validates a fixed set of access tokens.
type tokenTable map[string]error

func (tokenTable) IssueBackendToken(context.Context, auth.Principal) (string, int64, error) {
	return "", 0, errors.New("issuing is not used by the authorize middleware")
}

func (t tokenTable) ValidateToken(token string) (auth.Principal, error) {
	err, known := t[token]
	if !known {
		return auth.Principal{}, errors.New("token signature is invalid")
	}
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{UserID: "user-" + token}, nil
}

func TestAuthorizeRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := tokenTable{
		"ann":     nil,
		"bob":     nil,
		"expired": jwt.ErrTokenExpired,
	}

	testCases := []struct {
		name          string
		target        string
		authorization string
		wantStatus    int
		wantUser      string
		wantLogLevel  zapcore.Level
		wantLogged    bool
	}{
		{name: "bearer header", target: "/chats/1234/messages", authorization: "Bearer ann", wantStatus: http.StatusOK, wantUser: "user-ann"},
		{name: "event stream query token", target: "/chats/1234/messages?access_token=bob", wantStatus: http.StatusOK, wantUser: "user-bob"},
		{name: "header wins over query", target: "/chats/1234/messages?access_token=bob", authorization: "Bearer ann", wantStatus: http.StatusOK, wantUser: "user-ann"},
		{name: "missing credentials", target: "/chats/1234/messages", wantStatus: http.StatusUnauthorized},
		{name: "basic scheme", target: "/chats/1234/messages?access_token=bob", authorization: "Basic YW5uOnB3", wantStatus: http.StatusUnauthorized},
		{name: "empty bearer", target: "/chats/1234/messages", authorization: "Bearer   ", wantStatus: http.StatusUnauthorized},
		{name: "expired session", target: "/notifications", authorization: "Bearer expired", wantStatus: http.StatusUnauthorized, wantLogged: true, wantLogLevel: zapcore.InfoLevel},
		{name: "forged token", target: "/notifications", authorization: "Bearer mallory", wantStatus: http.StatusUnauthorized, wantLogged: true, wantLogLevel: zapcore.WarnLevel},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			handler := &httpHandler{tokens: tokens, logger: zap.New(core)}

			router := gin.New()
			router.Use(handler.authorizeRequest)
			echoUser := func(c *gin.Context) {
				c.String(http.StatusOK, principalFrom(c).UserID)
			}
			router.GET("/chats/:code/messages", echoUser)
			router.GET("/notifications", echoUser)

			request := httptest.NewRequest(http.MethodGet, testCase.target, http.NoBody)
			if testCase.authorization != "" {
				request.Header.Set("Authorization", testCase.authorization)
			}
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, request)

			if recorder.Code != testCase.wantStatus {
				t.Fatalf("status = %d, want %d", recorder.Code, testCase.wantStatus)
			}
			if testCase.wantUser != "" && recorder.Body.String() != testCase.wantUser {
				t.Fatalf("principal = %q, want %q", recorder.Body.String(), testCase.wantUser)
			}

			entries := logs.FilterMessage("token validation failed").All()
			if !testCase.wantLogged {
				if len(entries) != 0 {
					t.Fatalf("expected no validation log, got %d entries", len(entries))
				}
				return
			}
			if len(entries) != 1 {
				t.Fatalf("expected one validation log entry, got %d", len(entries))
			}
			if entries[0].Level != testCase.wantLogLevel {
				t.Fatalf("log level = %s, want %s", entries[0].Level, testCase.wantLogLevel)
			}
		})
	}
}
