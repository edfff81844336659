package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type chatTurnRequest struct {
	FirebaseUID string `json:"firebase_uid"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatar_url"`
	ChatID      *int64 `json:"chat_id"`
	Message     string `json:"message"`
}

type webhookRegistrationRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func parseQueryInt(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func parsePathID(c *gin.Context, key string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param(key)), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func formatDate(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.Format("2006-01-02")
}

func formatTimestamp(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}
