package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"authgate/internal/domain"
	"authgate/internal/service"
	"authgate/internal/token"
)

const userContextKey = "authgate/user"

// Handler wires HTTP routes to the auth service and token manager.
type Handler struct {
	auth       service.AuthService
	tokens     *token.Manager
	logger     *logrus.Logger
	cookieName string
	corsOrigin string
	production bool
}

func NewHandler(auth service.AuthService, tokens *token.Manager, logger *logrus.Logger, cookieName, corsOrigin string, production bool) *Handler {
	return &Handler{
		auth:       auth,
		tokens:     tokens,
		logger:     logger,
		cookieName: cookieName,
		corsOrigin: corsOrigin,
		production: production,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(h.corsMiddleware())

	router.POST("/sign-up", h.signUp)
	router.POST("/login", h.login)
	router.POST("/logout", h.logout)
	router.POST("/refresh-token", h.refreshToken)

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})

		session := api.Group("")
		session.Use(h.requireSession())
		session.GET("/heartbeat", h.heartbeat)
		session.GET("/me", h.me)
	}
}

// cookies carry credentials, so the CORS origin must be explicit
func (h *Handler) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", h.corsOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requireSession is the request admission gate. Checks run strictly in
// order: token present, signature valid, user exists, idle window not
// exceeded. Admitted requests get the user attached to the context,
// last_activity bumped, and a fresh cookie when the token passed its
// stated expiry.
func (h *Handler) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(h.cookieName)
		if err != nil || raw == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "No token provided."})
			return
		}

		sess, err := h.tokens.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token. Please log in again."})
			return
		}

		user, err := h.auth.GetByID(c.Request.Context(), sess.UserID)
		if err != nil {
			if errors.Is(err, service.ErrUserNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User does not exist."})
				return
			}
			h.serverError(c, "load user", err)
			return
		}

		now := time.Now().UTC()
		if h.tokens.IdleExpired(user.LastActivity, now) {
			h.clearAuthCookie(c)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session expired. Please log in again."})
			return
		}

		if fresh, reissued, err := h.tokens.RefreshIfNeeded(sess); err != nil {
			h.serverError(c, "reissue token", err)
			return
		} else if reissued {
			h.setAuthCookie(c, fresh)
		}

		if err := h.auth.TouchActivity(c.Request.Context(), user.ID, now); err != nil {
			h.logger.Warnf("update last activity for user %d: %v", user.ID, err)
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

type signUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) signUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please fill in all fields."})
		return
	}

	_, err := h.auth.Signup(c.Request.Context(), req.Name, req.Email, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"message": "Account created successfully."})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": userSafeMessage(err)})
	case errors.Is(err, service.ErrUserAlreadyExists):
		c.JSON(http.StatusBadRequest, gin.H{"error": "User already exists."})
	default:
		h.serverError(c, "sign up", err)
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please fill in all fields."})
		return
	}

	user, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password."})
			return
		}
		h.serverError(c, "login", err)
		return
	}

	signed, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.serverError(c, "issue token", err)
		return
	}

	h.setAuthCookie(c, signed)
	c.JSON(http.StatusOK, gin.H{"message": "Login successful."})
}

// logout clears the cookie whether or not a usable token came with the
// request. The audit event is best effort.
func (h *Handler) logout(c *gin.Context) {
	if raw, err := c.Cookie(h.cookieName); err == nil && raw != "" {
		if sess, err := h.tokens.Verify(raw); err == nil {
			if err := h.auth.Logout(c.Request.Context(), sess.UserID, time.Now().UTC()); err != nil {
				h.logger.Warnf("record logout for user %d: %v", sess.UserID, err)
			}
		}
	}

	h.clearAuthCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logout successful."})
}

// refreshToken reissues unconditionally on a signature-valid token, even
// one past its stated expiry. The idle window is not consulted here.
func (h *Handler) refreshToken(c *gin.Context) {
	raw, err := c.Cookie(h.cookieName)
	if err != nil || raw == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "No token provided."})
		return
	}

	sess, err := h.tokens.Verify(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token."})
		return
	}

	signed, err := h.tokens.Issue(sess.UserID)
	if err != nil {
		h.serverError(c, "issue token", err)
		return
	}

	h.setAuthCookie(c, signed)
	c.JSON(http.StatusOK, gin.H{"message": "Token refreshed."})
}

func (h *Handler) heartbeat(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "User is still active."})
}

type userResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	LastActivity string `json:"last_activity"`
}

func (h *Handler) me(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		h.serverError(c, "load session user", errors.New("user missing from context"))
		return
	}
	c.JSON(http.StatusOK, userResponse{
		ID:           user.ID,
		Name:         user.Name,
		Email:        user.Email,
		LastActivity: user.LastActivity.Format(time.RFC3339),
	})
}

func currentUser(c *gin.Context) *domain.User {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	user, _ := v.(*domain.User)
	return user
}

func (h *Handler) setAuthCookie(c *gin.Context, value string) {
	maxAge := int(h.tokens.TTL() / time.Second)
	c.SetCookie(h.cookieName, value, maxAge, "/", "", h.production, true)
}

func (h *Handler) clearAuthCookie(c *gin.Context) {
	c.SetCookie(h.cookieName, "", -1, "/", "", h.production, true)
}

func (h *Handler) serverError(c *gin.Context, op string, err error) {
	h.logger.Errorf("%s: %v", op, err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error."})
}

// userSafeMessage strips the sentinel prefix from a wrapped validation error.
func userSafeMessage(err error) string {
	msg := err.Error()
	prefix := service.ErrValidation.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
