package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/feirinha/internal/auth"
	"github.com/MarcoPoloResearchLab/feirinha/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/lists", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		accounts: stubAccountDirectory{
			currentErr: fmt.Errorf("%w: %w", users.ErrUnauthenticated, auth.ErrExpiredSessionToken),
		},
		tokens: bearerTokenReader{},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
	if !ctx.IsAborted() {
		t.Fatalf("expected request to be aborted")
	}
}

func TestAuthorizeRequestLogsRevokedSessionAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/lists", http.NoBody)
	request.Header.Set("Authorization", "Bearer revoked-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		accounts: stubAccountDirectory{
			currentErr: fmt.Errorf("%w: session revoked", users.ErrUnauthenticated),
		},
		tokens: bearerTokenReader{},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for revoked session, got %s", entries[0].Level)
	}
	if entries[0].Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entries[0].Message)
	}
}

func TestAuthorizeRequestRejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/lists", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		accounts: stubAccountDirectory{},
		tokens:   bearerTokenReader{},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no log entries for a missing token, got %d", logs.Len())
	}
}

func TestAuthorizeRequestAcceptsQueryToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/lists/stream?access_token=query-token", http.NoBody)

	accounts := stubAccountDirectory{
		account:       users.Account{UserID: "user-a", Email: "ana@example.com"},
		expectedToken: "query-token",
	}
	handler := &httpHandler{
		accounts: accounts,
		tokens:   bearerTokenReader{},
		logger:   zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	if ctx.IsAborted() {
		t.Fatalf("expected request to proceed, got status %d", recorder.Code)
	}
	if got := ctx.GetString(userIDContextKey); got != "user-a" {
		t.Fatalf("unexpected user id in context: %q", got)
	}
	if got := ctx.GetString(userEmailContextKey); got != "ana@example.com" {
		t.Fatalf("unexpected email in context: %q", got)
	}
}

type stubAccountDirectory struct {
	account       users.Account
	expectedToken string
	currentErr    error
}

func (s stubAccountDirectory) SignUp(context.Context, string, string) (users.Account, error) {
	return users.Account{}, errors.New("not implemented")
}

func (s stubAccountDirectory) SignIn(context.Context, string, string) (users.SessionGrant, error) {
	return users.SessionGrant{}, errors.New("not implemented")
}

func (s stubAccountDirectory) SignOut(context.Context, string) error {
	return nil
}

func (s stubAccountDirectory) CurrentUser(_ context.Context, token string) (users.Account, error) {
	if s.currentErr != nil {
		return users.Account{}, s.currentErr
	}
	if s.expectedToken != "" && token != s.expectedToken {
		return users.Account{}, users.ErrUnauthenticated
	}
	return s.account, nil
}

type bearerTokenReader struct{}

func (bearerTokenReader) ExtractToken(r *http.Request) (string, error) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) {
		return "", auth.ErrMissingSessionToken
	}
	return header[len(prefix):], nil
}

func (bearerTokenReader) CookieName() string {
	return "feirinha_session"
}
