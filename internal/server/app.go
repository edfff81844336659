package server

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"bichat/backend/internal/config"
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"
	roleSystem    = "system"
)

type App struct {
	cfg config.Config
	db  *pgxpool.Pool
	ai  AIClient
	tg  TelegramSender
}

func New(cfg config.Config, db *pgxpool.Pool) *App {
	return &App{
		cfg: cfg,
		db:  db,
		ai:  NewOpenAIChatClient(cfg),
		tg:  NewTelegramBot(cfg.TelegramBotToken),
	}
}

func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), requestID())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", a.health)

	api := router.Group(a.cfg.APIPrefix)

	api.POST("/chat", a.chatTurn)
	api.GET("/chats", a.listChats)
	api.GET("/chats/:chat_id/messages", a.getChatMessages)

	// TODO: add admin authentication
	admin := api.Group("/admin")
	admin.GET("/stats", a.adminStats)
	admin.GET("/users", a.listUsers)
	admin.GET("/users/:user_id", a.getUserDetail)
	admin.POST("/users/:user_id/extract-financial", a.extractFinancial)

	api.POST("/telegram-webhook", a.telegramWebhook)
	api.PUT("/telegram-webhook", a.registerTelegramWebhook)

	return router
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "bichat-api",
	})
}

// requestID propagates an incoming X-Request-Id or mints one, so that log
// lines from a single request can be correlated.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-Id", id)
		c.Set("requestID", id)
		c.Next()
	}
}

func writeError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"error": detail})
}

// serverError logs the underlying cause and collapses it to a generic 500.
func (a *App) serverError(c *gin.Context, operation string, err error) {
	requestID, _ := c.Get("requestID")
	log.Printf("%s failed request_id=%v: %v", operation, requestID, err)
	writeError(c, http.StatusInternalServerError, "Internal server error")
}

func mustJSON(c *gin.Context, payload any) bool {
	if err := c.ShouldBindJSON(payload); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}
