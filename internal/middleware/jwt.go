package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mnote-agent/internal/pkg/errcode"
	"github.com/xxxsen/mnote-agent/internal/pkg/jwt"
	"github.com/xxxsen/mnote-agent/internal/pkg/response"
)

const ContextClientIDKey = "client_id"

// JWTAuth requires a bearer token signed with secret and records the
// token's client id on the context. An empty secret disables the check.
func JWTAuth(secret []byte) gin.HandlerFunc {
	if len(secret) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		token, msg := bearerToken(c.GetHeader("Authorization"))
		if msg != "" {
			deny(c, msg)
			return
		}
		claims, err := jwt.ParseToken(token, secret)
		if err != nil {
			deny(c, "invalid token")
			return
		}
		c.Set(ContextClientIDKey, claims.ClientID)
		c.Next()
	}
}

// bearerToken returns the token, or a message saying why the header was
// rejected.
func bearerToken(header string) (string, string) {
	if header == "" {
		return "", "missing authorization"
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", "invalid authorization"
	}
	return token, ""
}

func deny(c *gin.Context, msg string) {
	response.Error(c, errcode.ErrUnauthorized, msg)
	c.Abort()
}
