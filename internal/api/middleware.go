package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const workspaceKey = "workspace_id"

// WorkspaceClaims scope a token to one workspace
type WorkspaceClaims struct {
	WorkspaceID string `json:"workspace_id"`
	jwt.RegisteredClaims
}

// IssueWorkspaceToken signs an HS256 token restricted to workspaceID
func IssueWorkspaceToken(secret, workspaceID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("secret is not configured")
	}
	now := time.Now()
	claims := WorkspaceClaims{
		WorkspaceID: workspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   workspaceID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseWorkspaceToken(secret, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &WorkspaceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*WorkspaceClaims)
	if !ok || claims.WorkspaceID == "" {
		return "", errors.New("token has no workspace")
	}
	return claims.WorkspaceID, nil
}

// presentedSecret reads "Authorization: Bearer <token>", falling back to the secret query parameter
func presentedSecret(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Query("secret")
}

// RequireSecret accepts the shared secret (full access) or a workspace token signed with it.
// Workspace tokens pin the request to their workspace via the workspace_id context key.
func RequireSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Automation secret is not configured"})
			return
		}

		presented := presentedSecret(c)
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1 {
			c.Next()
			return
		}

		workspaceID, err := parseWorkspaceToken(secret, presented)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(workspaceKey, workspaceID)
		c.Next()
	}
}

// scopedWorkspace returns the workspace a token pinned the request to, if any
func scopedWorkspace(c *gin.Context) string {
	return c.GetString(workspaceKey)
}

// RequestLogger logs requests using logrus
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"status":    c.Writer.Status(),
			"latency":   time.Since(start),
			"client_ip": c.ClientIP(),
			"method":    c.Request.Method,
			"path":      path,
		})

		// the query string may carry the secret and is never logged
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("Server error")
		case status >= 400:
			entry.Warn("Client error")
		default:
			entry.Debug("Request handled")
		}
	}
}
