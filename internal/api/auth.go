package api

import (
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/conescan/conescan-go/internal/conf"
	"github.com/conescan/conescan-go/internal/datastore"
	"github.com/conescan/conescan-go/internal/errors"
)

// session is the resolved identity of a bearer token.
type session struct {
	UserID   uint
	Username string
	Role     string
}

// AuthService issues and validates bearer tokens. Tokens live in an
// in-process cache; restarting the server logs everyone out, which is
// acceptable for a shop-floor deployment.
type AuthService struct {
	ds       datastore.Interface
	sessions *gocache.Cache
	ttl      time.Duration
}

// NewAuthService creates an auth service with the session TTL from settings.
func NewAuthService(ds datastore.Interface, settings *conf.Settings) *AuthService {
	ttl := time.Duration(settings.Security.SessionTTL) * time.Hour
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AuthService{
		ds:       ds,
		sessions: gocache.New(ttl, 30*time.Minute),
		ttl:      ttl,
	}
}

// Login verifies credentials and returns a fresh bearer token.
func (s *AuthService) Login(username, password string) (token string, sess *session, err error) {
	user, err := s.ds.GetUserByUsername(username)
	if err != nil {
		// Burn a bcrypt round anyway so missing and wrong-password
		// logins take comparable time.
		_ = bcrypt.CompareHashAndPassword(
			[]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"),
			[]byte(password))
		return "", nil, invalidCredentials()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, invalidCredentials()
	}

	token = uuid.NewString()
	sess = &session{UserID: user.ID, Username: user.Username, Role: user.Role}
	s.sessions.Set(token, sess, s.ttl)
	return token, sess, nil
}

// Validate resolves a bearer token to its session.
func (s *AuthService) Validate(token string) (*session, bool) {
	v, ok := s.sessions.Get(token)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*session)
	return sess, ok
}

// Logout revokes a token. Revoking an unknown token is a no-op.
func (s *AuthService) Logout(token string) {
	s.sessions.Delete(token)
}

// TTL returns the configured session lifetime.
func (s *AuthService) TTL() time.Duration {
	return s.ttl
}

func invalidCredentials() error {
	return errors.Newf("invalid username or password").
		Component("api").
		Category(errors.CategoryAuth).
		Build()
}

// initAuthRoutes registers login and logout endpoints.
func (c *Controller) initAuthRoutes() {
	c.Group.POST("/auth/login", c.Login)
	c.Group.POST("/auth/logout", c.Logout, c.AuthMiddleware)
}

// loginRequest is the login payload.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse carries the issued token and the authenticated user.
type loginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login handles POST /api/auth/login.
func (c *Controller) Login(ctx echo.Context) error {
	var req loginRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid login request", http.StatusBadRequest)
	}
	if req.Username == "" || req.Password == "" {
		return c.HandleError(ctx, nil, "Username and password are required", http.StatusBadRequest)
	}

	token, sess, err := c.auth.Login(req.Username, req.Password)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid username or password", http.StatusUnauthorized)
	}

	c.apiLogger.Info("user logged in", "username", sess.Username, "ip", ctx.RealIP())
	return ctx.JSON(http.StatusOK, loginResponse{
		Token:     token,
		Username:  sess.Username,
		Role:      sess.Role,
		ExpiresAt: time.Now().Add(c.auth.TTL()),
	})
}

// Logout handles POST /api/auth/logout.
func (c *Controller) Logout(ctx echo.Context) error {
	if token := bearerToken(ctx); token != "" {
		c.auth.Logout(token)
	}
	return ctx.JSON(http.StatusOK, map[string]string{"message": "logged out"})
}

// AuthMiddleware rejects requests without a valid bearer token and
// stores the session on the echo context for handlers downstream.
func (c *Controller) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		token := bearerToken(ctx)
		if token == "" {
			return c.HandleError(ctx, nil, "Missing authorization token", http.StatusUnauthorized)
		}
		sess, ok := c.auth.Validate(token)
		if !ok {
			return c.HandleError(ctx, nil, "Invalid or expired token", http.StatusUnauthorized)
		}
		ctx.Set("session", sess)
		return next(ctx)
	}
}

// AdminMiddleware additionally requires the admin role. Must run after
// AuthMiddleware.
func (c *Controller) AdminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		sess := currentSession(ctx)
		if sess == nil || sess.Role != "admin" {
			return c.HandleError(ctx, nil, "Administrator access required", http.StatusForbidden)
		}
		return next(ctx)
	}
}

func bearerToken(ctx echo.Context) string {
	header := ctx.Request().Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func currentSession(ctx echo.Context) *session {
	sess, _ := ctx.Get("session").(*session)
	return sess
}
