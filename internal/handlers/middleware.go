package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID        = "userId"
	tokenQueryParam  = "access_token"
	errMissingAuth   = "missing Authorization header"
	errMalformedAuth = "invalid Authorization header format"
	errBadToken      = "invalid or expired token"
)

// bearerToken extracts the JWT from the Authorization header. WebSocket
// upgrades may pass it as ?access_token= since browsers cannot set headers
// on the handshake.
func bearerToken(c *gin.Context) (string, string) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if isUpgrade(c.Request) {
			if tok := c.Query(tokenQueryParam); tok != "" {
				return tok, ""
			}
		}
		return "", errMissingAuth
	}
	scheme, tok, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || strings.TrimSpace(tok) == "" {
		return "", errMalformedAuth
	}
	return strings.TrimSpace(tok), ""
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// userIdMiddleware resolves the operator from the bearer token and stores
// the id under "userId".
func (h *Handler) userIdMiddleware(c *gin.Context) {
	tok, msg := bearerToken(c)
	if msg != "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
		return
	}

	userID, err := h.services.ParseToken(tok)
	if err != nil {
		if h.log != nil {
			h.log.Infow("auth_token_rejected", "path", c.FullPath(), "err", err)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errBadToken})
		return
	}

	c.Set(ctxUserID, userID)
	c.Next()
}
