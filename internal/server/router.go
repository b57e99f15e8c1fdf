package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/feirinha/internal/auth"
	"github.com/MarcoPoloResearchLab/feirinha/internal/projection"
	"github.com/MarcoPoloResearchLab/feirinha/internal/shopping"
	"github.com/MarcoPoloResearchLab/feirinha/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey    = "feirinha_user_id"
	userEmailContextKey = "feirinha_user_email"
	accessTokenQuery    = "access_token"

	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingAccounts      = errors.New("account directory dependency required")
	errMissingTokenReader   = errors.New("session token reader dependency required")
	errMissingListService   = errors.New("list service dependency required")
	errMissingFeed          = errors.New("change feed dependency required")
	errInvalidAuthorization = errors.New("session token missing or invalid")
)

// AccountDirectory signs users up, in and out and resolves the current session.
type AccountDirectory interface {
	SignUp(ctx context.Context, email, password string) (users.Account, error)
	SignIn(ctx context.Context, email, password string) (users.SessionGrant, error)
	SignOut(ctx context.Context, token string) error
	CurrentUser(ctx context.Context, token string) (users.Account, error)
}

// TokenReader locates the session token on a request.
type TokenReader interface {
	ExtractToken(r *http.Request) (string, error)
	CookieName() string
}

type Dependencies struct {
	Accounts          AccountDirectory
	Tokens            TokenReader
	Lists             *shopping.Service
	Feed              projection.Feed
	AllowedOrigins    []string
	SecureCookies     bool
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Accounts == nil {
		return nil, errMissingAccounts
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenReader
	}
	if deps.Lists == nil {
		return nil, errMissingListService
	}
	if deps.Feed == nil {
		return nil, errMissingFeed
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		accounts:      deps.Accounts,
		tokens:        deps.Tokens,
		lists:         deps.Lists,
		feed:          deps.Feed,
		secureCookies: deps.SecureCookies,
		heartbeat:     heartbeat,
		logger:        logger,
	}

	router.POST("/auth/sign-up", handler.handleSignUp)
	router.POST("/auth/sign-in", handler.handleSignIn)
	router.POST("/auth/sign-out", handler.handleSignOut)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/me", handler.handleCurrentUser)

	protected.GET("/lists", handler.handleListVisibleLists)
	protected.POST("/lists", handler.handleCreateList)
	protected.GET("/lists/stream", handler.handleCollectionStream)
	protected.GET("/lists/:id", handler.handleListDetail)
	protected.PATCH("/lists/:id", handler.handleRenameList)
	protected.DELETE("/lists/:id", handler.handleDeleteList)
	protected.GET("/lists/:id/stream", handler.handleListStream)
	protected.POST("/lists/:id/shares", handler.handleShareList)
	protected.POST("/lists/:id/items", handler.handleAddItem)
	protected.DELETE("/shares/:id", handler.handleRevokeShare)
	protected.PATCH("/items/:id", handler.handleSetItemChecked)
	protected.DELETE("/items/:id", handler.handleRemoveItem)

	return router, nil
}

// corsMiddleware allows credentialed requests from the given origins, or from
// any origin when none are configured.
func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		ExposeHeaders:    []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

type httpHandler struct {
	accounts      AccountDirectory
	tokens        TokenReader
	lists         *shopping.Service
	feed          projection.Feed
	secureCookies bool
	heartbeat     time.Duration
	logger        *zap.Logger
}

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accountPayload struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type signInResponsePayload struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	TokenType   string    `json:"token_type"`
	UserID      string    `json:"user_id"`
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.accounts.SignUp(c.Request.Context(), request.Email, request.Password)
	switch {
	case errors.Is(err, users.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
		return
	case errors.Is(err, users.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": "weak_password"})
		return
	case errors.Is(err, users.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		return
	case err != nil:
		h.logger.Error("failed to sign up", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign_up_failed"})
		return
	}

	c.JSON(http.StatusCreated, accountPayload{UserID: account.UserID, Email: account.Email})
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	grant, err := h.accounts.SignIn(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	if err != nil {
		h.logger.Error("failed to sign in", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign_in_failed"})
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.tokens.CookieName(),
		Value:    grant.Token,
		Path:     "/",
		Expires:  grant.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	c.JSON(http.StatusOK, signInResponsePayload{
		AccessToken: grant.Token,
		ExpiresAt:   grant.ExpiresAt,
		TokenType:   "Bearer",
		UserID:      grant.UserID,
	})
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	if token, err := h.requestToken(c); err == nil {
		if err := h.accounts.SignOut(c.Request.Context(), token); err != nil {
			h.logger.Error("failed to sign out", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sign_out_failed"})
			return
		}
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.tokens.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, accountPayload{
		UserID: c.GetString(userIDContextKey),
		Email:  c.GetString(userEmailContextKey),
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, err := h.requestToken(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	account, err := h.accounts.CurrentUser(c.Request.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("token validation failed", zap.Error(err))
		case errors.Is(err, users.ErrUnauthenticated):
			h.logger.Warn("token validation failed", zap.Error(err))
		default:
			h.logger.Error("session lookup failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session_lookup_failed"})
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, account.UserID)
	c.Set(userEmailContextKey, account.Email)
	c.Next()
}

// requestToken reads the session cookie or bearer header, then the access_token
// query parameter used by EventSource clients that cannot send headers.
func (h *httpHandler) requestToken(c *gin.Context) (string, error) {
	token, err := h.tokens.ExtractToken(c.Request)
	if err == nil {
		return token, nil
	}
	if queryToken := strings.TrimSpace(c.Query(accessTokenQuery)); queryToken != "" {
		return queryToken, nil
	}
	return "", err
}
