package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/webdav-engine/internal/auth"
	"github.com/webdav-engine/internal/models"
)

// handleToken 用户名密码换取Bearer令牌
func handleToken(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.TokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := verifier.CheckPassword(req.Username, req.Password); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		token, expiresAt, err := verifier.GenerateToken(req.Username, time.Duration(req.ExpiresIn)*time.Second)
		if err != nil {
			if errors.Is(err, auth.ErrUnsupportedScheme) {
				c.JSON(http.StatusNotImplemented, gin.H{"error": "token issuing is disabled"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
			return
		}

		c.JSON(http.StatusOK, models.TokenResponse{
			Token:     token,
			TokenType: auth.SchemeBearer,
			ExpiresAt: expiresAt,
			Username:  req.Username,
		})
	}
}

// handleHealth 健康检查
func handleHealth(backend string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  "healthy",
			Backend: backend,
			Time:    time.Now().Unix(),
		})
	}
}
