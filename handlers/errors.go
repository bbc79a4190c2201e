package handlers

import (
	"github.com/gin-gonic/gin"
)

// Error codes shared with the client adapter.
const (
	CodeValidationFailed = "validation_failed"
	CodeWeakPassword     = "weak_password"
	CodeEmailTaken       = "email_taken"
	CodeUnauthorized     = "unauthorized"
	CodeForbidden        = "forbidden"
	CodeNoRows           = "no_rows"
	CodeUserNotFound     = "user_not_found"
	CodeInvalidToken     = "invalid_token"
	CodeDuplicate        = "duplicate"
	CodeInternal         = "internal_error"
)

func abortJSON(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}

// abortOAuth answers token endpoint failures in the RFC 6749 error shape.
func abortOAuth(c *gin.Context, status int, code, description string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "error_description": description})
}
