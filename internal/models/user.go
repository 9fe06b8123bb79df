package models

import "time"

type TokenRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	// ExpiresIn 有效期（秒），0 表示默认值
	ExpiresIn int `json:"expires_in" binding:"min=0"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	Time    int64  `json:"time"`
}
