package middleware

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const principalKey = "principal"

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Email  string
	Role   string
	Admin  bool
	// Token is the raw bearer token, forwarded on calls made for the caller.
	Token string
}

// AdminCheck reports whether an email is configured as an administrator.
type AdminCheck func(email string) bool

var (
	errMissingToken = errors.New("missing token")
	errTokenFormat  = errors.New("invalid token format")
	errUserClaim    = errors.New("userId claim missing")
)

func parseBearer(header, secret string, isAdmin AdminCheck) (Principal, error) {
	raw := strings.TrimSpace(header)
	if raw == "" {
		return Principal{}, errMissingToken
	}

	parts := strings.Split(raw, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return Principal{}, errTokenFormat
	}

	token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, jwt.ErrTokenInvalidClaims
	}

	userID, _ := claims["userId"].(string)
	if strings.TrimSpace(userID) == "" {
		userID, _ = claims["sub"].(string)
	}
	if strings.TrimSpace(userID) == "" {
		return Principal{}, errUserClaim
	}

	p := Principal{UserID: userID, Token: parts[1]}
	p.Email, _ = claims["email"].(string)
	p.Role, _ = claims["role"].(string)
	p.Admin = p.Role == "admin" || (isAdmin != nil && p.Email != "" && isAdmin(p.Email))
	return p, nil
}

func authenticate(c *gin.Context, secret string, isAdmin AdminCheck) (Principal, bool) {
	p, err := parseBearer(c.GetHeader("Authorization"), secret, isAdmin)
	if err != nil {
		log.Println("[AUTH] [ERROR] token validation failed:", err)
		msg := "unauthorized"
		if errors.Is(err, errMissingToken) {
			msg = "missing token"
		} else if errors.Is(err, errTokenFormat) {
			msg = "invalid token"
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
		return Principal{}, false
	}

	c.Set(principalKey, p)
	c.Set("userId", p.UserID)
	return p, true
}

// UserAuth validates the bearer token and stores the caller in the context.
func UserAuth(secret string, isAdmin AdminCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := authenticate(c, secret, isAdmin); !ok {
			return
		}
		c.Next()
	}
}

// AdminAuth is UserAuth restricted to administrators.
func AdminAuth(secret string, isAdmin AdminCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := authenticate(c, secret, isAdmin)
		if !ok {
			return
		}
		if !p.Admin {
			log.Printf("[AUTH] [WARN] user %s denied admin access", p.UserID)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}
