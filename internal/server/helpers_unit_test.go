package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestOptionalString(t *testing.T) {
	if got := optionalString("  hello "); got == nil || *got != "hello" {
		t.Fatalf("expected trimmed pointer, got %v", got)
	}
	if got := optionalString("   "); got != nil {
		t.Fatalf("expected nil for blank input, got %q", *got)
	}
}

func TestParseQueryInt(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Request = httptest.NewRequest("GET", "/?limit=25&bad=abc&negative=-3", nil)

	if got := parseQueryInt(ctx, "limit", 10); got != 25 {
		t.Fatalf("expected 25, got %d", got)
	}
	if got := parseQueryInt(ctx, "missing", 10); got != 10 {
		t.Fatalf("expected fallback 10, got %d", got)
	}
	if got := parseQueryInt(ctx, "bad", 10); got != 10 {
		t.Fatalf("expected fallback for non-numeric, got %d", got)
	}
	if got := parseQueryInt(ctx, "negative", 10); got != 10 {
		t.Fatalf("expected fallback for negative, got %d", got)
	}
}

func TestParsePathID(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Params = gin.Params{{Key: "user_id", Value: "42"}}
	if id, ok := parsePathID(ctx, "user_id"); !ok || id != 42 {
		t.Fatalf("expected 42, got %d ok=%v", id, ok)
	}

	ctx.Params = gin.Params{{Key: "user_id", Value: "abc"}}
	if _, ok := parsePathID(ctx, "user_id"); ok {
		t.Fatalf("expected non-numeric ID to fail")
	}
}

func TestFormatDate(t *testing.T) {
	if got := formatDate(nil); got != nil {
		t.Fatalf("expected nil for nil input, got %v", got)
	}
	when := time.Date(1990, 5, 12, 15, 30, 0, 0, time.UTC)
	if got := formatDate(&when); got != "1990-05-12" {
		t.Fatalf("expected 1990-05-12, got %v", got)
	}
}

func TestTelegramDisplayName(t *testing.T) {
	if got := telegramDisplayName(&tgbotapi.User{UserName: "finance_fan"}); got != "finance_fan" {
		t.Fatalf("expected username to win, got %q", got)
	}
	if got := telegramDisplayName(&tgbotapi.User{FirstName: "Ada", LastName: "Lovelace"}); got != "Ada Lovelace" {
		t.Fatalf("expected full name, got %q", got)
	}
	if got := telegramDisplayName(&tgbotapi.User{FirstName: "Ada"}); got != "Ada" {
		t.Fatalf("expected first name only, got %q", got)
	}
	if got := telegramDisplayName(&tgbotapi.User{}); got != "Telegram User" {
		t.Fatalf("expected fallback name, got %q", got)
	}
	if got := telegramDisplayName(nil); got != "Telegram User" {
		t.Fatalf("expected fallback for nil user, got %q", got)
	}
}
