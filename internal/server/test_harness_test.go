package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"bichat/backend/internal/config"
	"bichat/backend/internal/db"
)

var (
	testPool              *pgxpool.Pool
	baseTestConfig        config.Config
	integrationDBReady    bool
	integrationSkipReason string
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	baseTestConfig = newTestConfig()

	testDatabaseURL := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if testDatabaseURL == "" {
		integrationSkipReason = "integration tests skipped: TEST_DATABASE_URL is not set"
		fmt.Fprintln(os.Stderr, integrationSkipReason)
		os.Exit(m.Run())
	}
	testDatabaseURL = withSimpleProtocol(testDatabaseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.Connect(ctx, testDatabaseURL)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "integration test setup failed: cannot connect TEST_DATABASE_URL: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	err = pool.Ping(ctx)
	cancel()
	if err != nil {
		pool.Close()
		fmt.Fprintf(os.Stderr, "integration test setup failed: database ping failed: %v\n", err)
		os.Exit(1)
	}

	if err := verifyRequiredTables(pool); err != nil {
		pool.Close()
		fmt.Fprintf(os.Stderr, "integration test setup failed: %v\n", err)
		os.Exit(1)
	}

	testPool = pool
	integrationDBReady = true

	exitCode := m.Run()
	testPool.Close()
	os.Exit(exitCode)
}

func withSimpleProtocol(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	queries := parsed.Query()
	queries.Set("default_query_exec_mode", "simple_protocol")
	parsed.RawQuery = queries.Encode()
	return parsed.String()
}

func newTestConfig() config.Config {
	return config.Config{
		AppEnv:      "test",
		AppName:     "BiChat API Test",
		APIPrefix:   "/api",
		AppPort:     "0",
		DatabaseURL: "test",
		CORSAllowOrigins: []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		},
		OpenAIChatModel:        "gpt-4.1-mini",
		OpenAIExtractionModel:  "gpt-4",
		AITimeoutSeconds:       5,
		PromptWindowSize:       10,
		ExtractionMessageLimit: 50,
		TelegramWebhookSecret:  "telegram_secret",
	}
}

func verifyRequiredTables(pool *pgxpool.Pool) error {
	required := []string{
		"users",
		"chats",
		"messages",
		"summaries",
		"user_financial_info",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	missing := make([]string, 0)
	for _, table := range required {
		var exists bool
		if err := pool.QueryRow(
			ctx,
			`SELECT EXISTS (
				SELECT 1
				FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`,
			table,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to validate schema table %q: %w", table, err)
		}
		if !exists {
			missing = append(missing, table)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf(
			"missing required tables: %s. Run cmd/migrate with TEST_DATABASE_URL before running integration tests",
			strings.Join(missing, ", "),
		)
	}
	return nil
}

func requireIntegration(t *testing.T) {
	t.Helper()
	if !integrationDBReady {
		if integrationSkipReason == "" {
			integrationSkipReason = "integration tests skipped: TEST_DATABASE_URL is not configured"
		}
		t.Skip(integrationSkipReason)
	}
}

// newTestApp wires the handlers against the shared pool with caller-supplied
// provider fakes, so no OpenAI or Telegram traffic can happen in tests.
func newTestApp(t *testing.T, ai AIClient, tg TelegramSender) *App {
	t.Helper()
	requireIntegration(t)
	if ai == nil {
		ai = &MockAIClient{}
	}
	if tg == nil {
		tg = &mockTelegramSender{}
	}
	return &App{
		cfg: baseTestConfig,
		db:  testPool,
		ai:  ai,
		tg:  tg,
	}
}

func newTestRouter(t *testing.T, ai AIClient, tg TelegramSender) *gin.Engine {
	t.Helper()
	return newTestApp(t, ai, tg).Router()
}

func resetDatabase(t *testing.T) {
	t.Helper()
	requireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := testPool.Exec(
		ctx,
		`TRUNCATE TABLE
			user_financial_info,
			summaries,
			messages,
			chats,
			users
		RESTART IDENTITY CASCADE`,
	)
	if err != nil {
		t.Fatalf("reset database: %v", err)
	}
}

func seedUser(t *testing.T, firebaseUID, email string) int64 {
	t.Helper()
	requireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var userID int64
	err := testPool.QueryRow(
		ctx,
		`INSERT INTO users (firebase_uid, email, name)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		firebaseUID,
		email,
		"user-"+firebaseUID,
	).Scan(&userID)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return userID
}

// seedChat pins both timestamps so activity-window assertions are exact.
func seedChat(t *testing.T, userID int64, updatedAt time.Time) int64 {
	t.Helper()
	requireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var chatID int64
	err := testPool.QueryRow(
		ctx,
		`INSERT INTO chats (user_id, created_at, updated_at)
		 VALUES ($1, $2, $2)
		 RETURNING id`,
		userID,
		updatedAt.UTC(),
	).Scan(&chatID)
	if err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	return chatID
}

func seedMessage(t *testing.T, chatID int64, role, content string, createdAt time.Time) int64 {
	t.Helper()
	requireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var messageID int64
	err := testPool.QueryRow(
		ctx,
		`INSERT INTO messages (chat_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		chatID,
		role,
		content,
		createdAt.UTC(),
	).Scan(&messageID)
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return messageID
}

func seedSummary(t *testing.T, chatID int64, summary string) {
	t.Helper()
	requireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := testPool.Exec(
		ctx,
		`INSERT INTO summaries (chat_id, summary) VALUES ($1, $2)`,
		chatID,
		summary,
	)
	if err != nil {
		t.Fatalf("seed summary: %v", err)
	}
}

func seedFinancialInfo(t *testing.T, userID int64, gender string, salary float64) {
	t.Helper()
	requireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := testPool.Exec(
		ctx,
		`INSERT INTO user_financial_info (user_id, gender, estimated_salary)
		 VALUES ($1, $2, $3)`,
		userID,
		gender,
		salary,
	)
	if err != nil {
		t.Fatalf("seed financial info: %v", err)
	}
}

type mockTelegramSender struct {
	SentChatIDs   []int64
	SentTexts     []string
	SendErr       error
	RegisteredURL string
	RegisterErr   error
}

func (m *mockTelegramSender) SendMessage(chatID int64, text string) error {
	m.SentChatIDs = append(m.SentChatIDs, chatID)
	m.SentTexts = append(m.SentTexts, text)
	return m.SendErr
}

func (m *mockTelegramSender) RegisterWebhook(url string) (map[string]any, error) {
	m.RegisteredURL = url
	if m.RegisterErr != nil {
		return nil, m.RegisterErr
	}
	return map[string]any{"ok": true, "description": "Webhook was set"}, nil
}

func performRequest(
	t *testing.T,
	router http.Handler,
	method, targetPath string,
	body any,
) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, targetPath, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSONMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response JSON: %v; body=%s", err, rec.Body.String())
	}
	return payload
}

func responseError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeJSONMap(t, rec)
	message, _ := body["error"].(string)
	return message
}
