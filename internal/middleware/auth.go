package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/flicky/template-storefront/internal/model"
)

var errNoToken = errors.New("no bearer token")

func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authenticate(c, secret); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// OptionalAuth lets guests through but still rejects a malformed or expired
// token, so a stale session never silently turns into a guest checkout.
func OptionalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authenticate(c, secret); err != nil && !errors.Is(err, errNoToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, secret string) error {
	header := c.GetHeader("Authorization")
	if header == "" {
		return errNoToken
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return errors.New("unauthorized")
	}

	token, err := jwt.Parse(header[7:], func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("invalid claims")
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return errors.New("invalid user id")
	}

	role, _ := claims["role"].(string)
	c.Set("userID", userID)
	c.Set("userRole", role)
	return nil
}

func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetUserRole(c) != model.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}

func GetUserID(c *gin.Context) uuid.UUID {
	id, _ := c.Get("userID")
	uid, _ := id.(uuid.UUID)
	return uid
}

func GetUserRole(c *gin.Context) string {
	role, _ := c.Get("userRole")
	r, _ := role.(string)
	return r
}
