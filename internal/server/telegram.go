package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramFallbackReply = "Sorry, I could not generate a response."

// TelegramSender is the outbound Telegram surface. Webhook tests swap in a
// recording fake so no Bot API traffic happens.
type TelegramSender interface {
	SendMessage(chatID int64, text string) error
	RegisterWebhook(url string) (map[string]any, error)
}

// TelegramBot wraps the Bot API client. Construction is lazy because
// tgbotapi.NewBotAPI performs a getMe call, and the server must come up even
// when no bot token is configured.
type TelegramBot struct {
	token string

	once    sync.Once
	api     *tgbotapi.BotAPI
	initErr error
}

func NewTelegramBot(token string) *TelegramBot {
	return &TelegramBot{token: token}
}

func (b *TelegramBot) client() (*tgbotapi.BotAPI, error) {
	b.once.Do(func() {
		if strings.TrimSpace(b.token) == "" {
			b.initErr = errors.New("telegram bot token is not configured")
			return
		}
		b.api, b.initErr = tgbotapi.NewBotAPI(b.token)
	})
	return b.api, b.initErr
}

func (b *TelegramBot) SendMessage(chatID int64, text string) error {
	api, err := b.client()
	if err != nil {
		return err
	}
	message := tgbotapi.NewMessage(chatID, text)
	message.ParseMode = tgbotapi.ModeMarkdown
	_, err = api.Send(message)
	return err
}

func (b *TelegramBot) RegisterWebhook(url string) (map[string]any, error) {
	api, err := b.client()
	if err != nil {
		return nil, err
	}
	webhook, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return nil, err
	}
	response, err := api.Request(webhook)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"ok":          response.Ok,
		"description": response.Description,
	}, nil
}

// telegramWebhook handles one inbound update. Telegram retries deliveries
// that do not get a 200, so non-message updates are acknowledged rather than
// rejected.
func (a *App) telegramWebhook(c *gin.Context) {
	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}
	message := update.Message
	if message == nil || strings.TrimSpace(message.Text) == "" || message.From == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	firebaseUID := strconv.FormatInt(message.From.ID, 10)
	email := fmt.Sprintf("telegram_%s@telegram", firebaseUID)
	name := telegramDisplayName(message.From)

	ctx := c.Request.Context()
	user, err := a.getOrCreateUser(ctx, firebaseUID, email, &name, nil)
	if err != nil {
		a.telegramServerError(c, "telegram webhook: resolve user", err)
		return
	}

	// Telegram carries no chat selection, so the whole conversation lives in
	// the user's most recently active chat.
	chats, err := a.chatsForUser(ctx, user.ID)
	if err != nil {
		a.telegramServerError(c, "telegram webhook: load chats", err)
		return
	}
	var chatID int64
	if len(chats) > 0 {
		chatID = chats[0].ID
	} else {
		chatID, err = a.createChat(ctx, user.ID)
		if err != nil {
			a.telegramServerError(c, "telegram webhook: create chat", err)
			return
		}
	}

	messageText := strings.TrimSpace(message.Text)
	if err := a.insertMessage(ctx, chatID, roleUser, messageText); err != nil {
		a.telegramServerError(c, "telegram webhook: store user message", err)
		return
	}

	prompt, err := a.buildPrompt(ctx, chatID, messageText)
	if err != nil {
		a.telegramServerError(c, "telegram webhook: build prompt", err)
		return
	}

	reply, err := a.ai.Complete(ctx, CompletionRequest{
		Model:       a.cfg.OpenAIChatModel,
		Messages:    prompt,
		Temperature: chatTemperature,
	})
	if errors.Is(err, errEmptyCompletion) {
		reply = telegramFallbackReply
	} else if err != nil {
		a.telegramServerError(c, "telegram webhook: completion", err)
		return
	}

	if err := a.insertMessage(ctx, chatID, roleAssistant, reply); err != nil {
		a.telegramServerError(c, "telegram webhook: store assistant message", err)
		return
	}

	if err := a.tg.SendMessage(message.Chat.ID, reply); err != nil {
		a.telegramServerError(c, "telegram webhook: send reply", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *App) telegramServerError(c *gin.Context, operation string, err error) {
	requestID, _ := c.Get("requestID")
	log.Printf("%s failed request_id=%v: %v", operation, requestID, err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"ok":    false,
		"error": "Internal server error",
	})
}

// registerTelegramWebhook points the bot at a new public URL. The shared
// secret is a deployment convenience, not authentication.
func (a *App) registerTelegramWebhook(c *gin.Context) {
	var payload webhookRegistrationRequest
	if !mustJSON(c, &payload) {
		return
	}
	if payload.Secret != a.cfg.TelegramWebhookSecret {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if strings.TrimSpace(payload.URL) == "" {
		writeError(c, http.StatusBadRequest, "Missing url")
		return
	}

	result, err := a.tg.RegisterWebhook(strings.TrimSpace(payload.URL))
	if err != nil {
		a.serverError(c, "telegram webhook registration", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"telegram": result,
	})
}

func telegramDisplayName(from *tgbotapi.User) string {
	if from == nil {
		return "Telegram User"
	}
	if strings.TrimSpace(from.UserName) != "" {
		return strings.TrimSpace(from.UserName)
	}
	full := strings.TrimSpace(strings.TrimSpace(from.FirstName) + " " + strings.TrimSpace(from.LastName))
	if full != "" {
		return full
	}
	return "Telegram User"
}
