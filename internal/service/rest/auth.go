package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Роли пользователей маркетплейса.
const (
	RoleRetailer    = "retailer"
	RoleDistributor = "distributor"
	RoleAdmin       = "admin"
)

const (
	authHeader   = "Authorization"
	bearerPrefix = "Bearer "
	principalKey = "marketplace.principal"
)

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid token")
	errUnknownRole  = errors.New("unknown role")
)

// Claims: содержимое access-токена.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Principal: проверенный пользователь запроса.
type Principal struct {
	UserID string
	Role   string
}

// Authenticator проверяет HS256-токены.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// NewAuthenticator создаёт проверку токенов с общим секретом.
func NewAuthenticator(secret string) (*Authenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &Authenticator{secret: []byte(secret), now: time.Now}, nil
}

// Issue подписывает токен. Используется нагрузочным тестом и тестами API.
func (a *Authenticator) Issue(userID, role string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify разбирает токен и возвращает пользователя.
func (a *Authenticator) Verify(token string) (Principal, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", errInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Principal{}, errInvalidToken
	}
	switch claims.Role {
	case RoleRetailer, RoleDistributor, RoleAdmin:
	default:
		return Principal{}, fmt.Errorf("%w: %q", errUnknownRole, claims.Role)
	}
	return Principal{UserID: claims.Subject, Role: claims.Role}, nil
}

// authenticate проверяет токен один раз и кладёт Principal в контекст gin.
func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(authHeader)
		if !strings.HasPrefix(header, bearerPrefix) {
			h.abortUnauthorized(c, errMissingToken)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		if token == "" {
			h.abortUnauthorized(c, errMissingToken)
			return
		}

		principal, err := h.auth.Verify(token)
		if err != nil {
			h.abortUnauthorized(c, err)
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

func (h *Handler) abortUnauthorized(c *gin.Context, err error) {
	h.logger.WithError(err).WithField("path", c.Request.URL.Path).Debug("authentication failed")
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Code: "unauthorized", Message: "authentication required"})
}

func principalFrom(c *gin.Context) Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(Principal); ok {
			return p
		}
	}
	return Principal{}
}
