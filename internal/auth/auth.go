package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"chatroom/internal/models"
	"chatroom/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	CookieName = "chat_session"

	ctxUserID    = "userID"
	ctxSessionID = "sessionID"
)

// Claims 把不透明的会话 ID 放在 jti 中，签名只用于防篡改，会话本身仍以 Store 为准。
type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// IssueToken 为会话签发 HS256 令牌。
func IssueToken(sess models.Session, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: sess.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Subject:   sess.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.ID != "" {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// Resolver 是 websocket 握手与 REST 中间件共用的身份解析器。
// 接受签名令牌或原始会话 ID（来自 cookie）。
type Resolver struct {
	store  *service.Store
	secret string
}

func NewResolver(store *service.Store, secret string) *Resolver {
	return &Resolver{store: store, secret: secret}
}

func (r *Resolver) Resolve(credential string) (models.User, error) {
	u, _, err := r.resolve(credential)
	return u, err
}

func (r *Resolver) resolve(credential string) (models.User, string, error) {
	sessionID := credential
	var claims *Claims
	if strings.Count(credential, ".") == 2 {
		c, err := ParseToken(credential, r.secret)
		if err != nil {
			return models.User{}, "", service.ErrInvalidCredentials
		}
		claims = c
		sessionID = c.ID
	}
	u, err := r.store.ResolveSession(sessionID)
	if err != nil {
		return models.User{}, "", err
	}
	if claims != nil && claims.UserID != u.ID {
		return models.User{}, "", service.ErrInvalidCredentials
	}
	return u, sessionID, nil
}

// Credential 依次从 Authorization 头、token 查询参数与会话 cookie 中取凭据。
func Credential(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	if t := c.Query("token"); t != "" {
		return t
	}
	if v, err := c.Cookie(CookieName); err == nil {
		return v
	}
	return ""
}

func Middleware(r *Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := Credential(c)
		if cred == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			return
		}
		u, sid, err := r.resolve(cred)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(ctxUserID, u.ID)
		c.Set(ctxSessionID, sid)
		c.Next()
	}
}

func GetUserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

func GetSessionID(c *gin.Context) string {
	return c.GetString(ctxSessionID)
}
