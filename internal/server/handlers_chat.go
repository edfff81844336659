package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const chatTemperature float32 = 0.7

// chatTurn runs one full conversation turn: resolve the user, resolve the
// chat, persist the inbound message, assemble the prompt, call the completion
// API once, persist and return the reply. There is no retry; a failed
// completion leaves the user message behind as an unanswered row.
func (a *App) chatTurn(c *gin.Context) {
	var payload chatTurnRequest
	if !mustJSON(c, &payload) {
		return
	}

	firebaseUID := strings.TrimSpace(payload.FirebaseUID)
	email := strings.TrimSpace(payload.Email)
	messageText := strings.TrimSpace(payload.Message)
	if firebaseUID == "" || email == "" || messageText == "" {
		writeError(c, http.StatusBadRequest, "Missing required fields")
		return
	}

	ctx := c.Request.Context()
	user, err := a.getOrCreateUser(ctx, firebaseUID, email, optionalString(payload.Name), optionalString(payload.AvatarURL))
	if err != nil {
		a.serverError(c, "chat turn: resolve user", err)
		return
	}

	var chatID int64
	if payload.ChatID != nil {
		chatID = *payload.ChatID
	} else {
		chatID, err = a.createChat(ctx, user.ID)
		if err != nil {
			a.serverError(c, "chat turn: create chat", err)
			return
		}
	}

	if err := a.insertMessage(ctx, chatID, roleUser, messageText); err != nil {
		a.serverError(c, "chat turn: store user message", err)
		return
	}

	prompt, err := a.buildPrompt(ctx, chatID, messageText)
	if err != nil {
		a.serverError(c, "chat turn: build prompt", err)
		return
	}

	reply, err := a.ai.Complete(ctx, CompletionRequest{
		Model:       a.cfg.OpenAIChatModel,
		Messages:    prompt,
		Temperature: chatTemperature,
	})
	if err != nil {
		a.serverError(c, "chat turn: completion", err)
		return
	}

	if err := a.insertMessage(ctx, chatID, roleAssistant, reply); err != nil {
		a.serverError(c, "chat turn: store assistant message", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reply":   reply,
		"chat_id": chatID,
	})
}

func (a *App) listChats(c *gin.Context) {
	firebaseUID := strings.TrimSpace(c.Query("firebase_uid"))
	email := strings.TrimSpace(c.Query("email"))
	if firebaseUID == "" || email == "" {
		writeError(c, http.StatusBadRequest, "Missing firebase_uid or email")
		return
	}

	ctx := c.Request.Context()
	user, err := a.getOrCreateUser(ctx, firebaseUID, email, nil, nil)
	if err != nil {
		a.serverError(c, "list chats: resolve user", err)
		return
	}

	chats, err := a.chatsForUser(ctx, user.ID)
	if err != nil {
		a.serverError(c, "list chats: load chats", err)
		return
	}

	items := make([]gin.H, 0, len(chats))
	for _, chat := range chats {
		items = append(items, gin.H{
			"id":         chat.ID,
			"created_at": chat.CreatedAt.UTC(),
			"updated_at": chat.UpdatedAt.UTC(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"chats": items})
}

func (a *App) getChatMessages(c *gin.Context) {
	firebaseUID := strings.TrimSpace(c.Query("firebase_uid"))
	email := strings.TrimSpace(c.Query("email"))
	chatID, ok := parsePathID(c, "chat_id")
	if firebaseUID == "" || email == "" || !ok {
		writeError(c, http.StatusBadRequest, "Missing firebase_uid, email, or chat_id")
		return
	}
	limit := parseQueryInt(c, "limit", 10)
	offset := parseQueryInt(c, "offset", 0)

	ctx := c.Request.Context()
	if _, err := a.getOrCreateUser(ctx, firebaseUID, email, nil, nil); err != nil {
		a.serverError(c, "chat messages: resolve user", err)
		return
	}

	messages, err := a.messagesForChat(ctx, chatID, limit, offset)
	if err != nil {
		a.serverError(c, "chat messages: load messages", err)
		return
	}

	items := make([]gin.H, 0, len(messages))
	for _, message := range messages {
		items = append(items, gin.H{
			"id":         message.ID,
			"role":       message.Role,
			"content":    message.Content,
			"created_at": message.CreatedAt.UTC(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": items})
}
