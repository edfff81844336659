package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	extractionTemperature float32 = 0.1
	extractionMaxTokens           = 500

	extractionSystemPrompt = "You are a financial data extraction specialist. Extract only the requested information and return it as JSON."
)

// jsonObjectPattern grabs the span from the first opening brace to the last
// closing brace, which tolerates prose around the object the model was asked
// to return alone.
var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

var (
	allowedGenders = map[string]struct{}{
		"male":   {},
		"female": {},
		"other":  {},
	}
	allowedBICheckingStatuses = map[string]struct{}{
		"approved": {},
		"rejected": {},
		"pending":  {},
	}
)

type financialInfoUpdate struct {
	Gender           *string
	Birthdate        *time.Time
	EstimatedSalary  *float64
	Country          *string
	Domicile         *string
	ActiveLoan       *int
	BICheckingStatus *string
}

// extractFinancial submits the user's flattened chat transcript to the
// completion API and upserts whatever survives the field whitelist. A user
// with no chat history is a 400, not an empty extraction.
func (a *App) extractFinancial(c *gin.Context) {
	// TODO: add admin authentication
	userID, ok := parsePathID(c, "user_id")
	if !ok {
		writeError(c, http.StatusBadRequest, "Invalid user ID")
		return
	}

	ctx := c.Request.Context()
	detail, err := a.userWithFinancialInfo(ctx, userID)
	if err != nil {
		a.serverError(c, "financial extraction: load user", err)
		return
	}
	if detail == nil {
		writeError(c, http.StatusNotFound, "User not found")
		return
	}

	messages, err := a.recentMessagesForUser(ctx, userID, a.cfg.ExtractionMessageLimit)
	if err != nil {
		a.serverError(c, "financial extraction: load messages", err)
		return
	}
	if len(messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "No chat history found for this user",
			"extracted": false,
		})
		return
	}

	lines := make([]string, 0, len(messages))
	for _, message := range messages {
		lines = append(lines, message.Role+": "+message.Content)
	}

	reply, err := a.ai.Complete(ctx, CompletionRequest{
		Model: a.cfg.OpenAIExtractionModel,
		Messages: []ChatTurn{
			{Role: roleSystem, Content: extractionSystemPrompt},
			{Role: roleUser, Content: buildExtractionPrompt(strings.Join(lines, "\n"))},
		},
		Temperature: extractionTemperature,
		MaxTokens:   extractionMaxTokens,
	})
	if err != nil {
		log.Printf("financial extraction completion failed user_id=%d: %v", userID, err)
		writeError(c, http.StatusInternalServerError, "Failed to extract financial data")
		return
	}

	raw, err := extractJSONObject(reply)
	if err != nil {
		log.Printf("financial extraction parse failed user_id=%d reply=%q: %v", userID, reply, err)
		writeError(c, http.StatusInternalServerError, "Failed to parse extracted data")
		return
	}

	update := sanitizeExtractedFinancial(raw)
	if err := a.upsertFinancialInfo(ctx, userID, update); err != nil {
		a.serverError(c, "financial extraction: upsert", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"extracted": true,
		"data":      update.asJSON(),
		"message":   "Financial data extracted and stored successfully",
	})
}

func buildExtractionPrompt(transcript string) string {
	return fmt.Sprintf(`Analyze the following chat history and extract personal financial information. Return ONLY a JSON object with the following structure. If information is not available, use null.

Chat History:
%s

Extract and return ONLY this JSON structure:
{
  "gender": "male|female|other|null",
  "birthdate": "YYYY-MM-DD|null",
  "estimated_salary": number|null,
  "country": "string|null",
  "domicile": "string|null",
  "active_loan": number|null,
  "bi_checking_status": "approved|rejected|pending|null"
}

Rules:
- For salary: Extract only the number, no currency symbols
- For active_loan: Count the number of loans mentioned
- For birthdate: Use YYYY-MM-DD format if found
- For gender: Use "male", "female", or "other"
- For bi_checking_status: Use "approved", "rejected", or "pending"
- If information is not mentioned, use null
- Return ONLY the JSON, no other text`, transcript)
}

func extractJSONObject(text string) (map[string]any, error) {
	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return nil, errors.New("no JSON object in reply")
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

// sanitizeExtractedFinancial whitelists each field individually. A value that
// fails validation is discarded to nil, never surfaced as an error, so a
// partially usable extraction still lands.
func sanitizeExtractedFinancial(raw map[string]any) financialInfoUpdate {
	update := financialInfoUpdate{}

	if gender, ok := raw["gender"].(string); ok {
		gender = strings.ToLower(strings.TrimSpace(gender))
		if _, allowed := allowedGenders[gender]; allowed {
			update.Gender = &gender
		}
	}
	if birthdate, ok := raw["birthdate"].(string); ok {
		if parsed, err := time.Parse("2006-01-02", strings.TrimSpace(birthdate)); err == nil {
			update.Birthdate = &parsed
		}
	}
	if salary, ok := raw["estimated_salary"].(float64); ok && salary > 0 {
		update.EstimatedSalary = &salary
	}
	if country := sanitizeFreeText(raw["country"]); country != nil {
		update.Country = country
	}
	if domicile := sanitizeFreeText(raw["domicile"]); domicile != nil {
		update.Domicile = domicile
	}
	if loans, ok := raw["active_loan"].(float64); ok && loans >= 0 {
		count := int(loans)
		update.ActiveLoan = &count
	}
	if status, ok := raw["bi_checking_status"].(string); ok {
		status = strings.ToLower(strings.TrimSpace(status))
		if _, allowed := allowedBICheckingStatuses[status]; allowed {
			update.BICheckingStatus = &status
		}
	}
	return update
}

// sanitizeFreeText accepts any non-empty string except the literal "null"
// some models emit instead of a JSON null.
func sanitizeFreeText(value any) *string {
	text, ok := value.(string)
	if !ok {
		return nil
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.EqualFold(trimmed, "null") {
		return nil
	}
	return &trimmed
}

func (u financialInfoUpdate) asJSON() gin.H {
	return gin.H{
		"gender":             u.Gender,
		"birthdate":          formatDate(u.Birthdate),
		"estimated_salary":   u.EstimatedSalary,
		"country":            u.Country,
		"domicile":           u.Domicile,
		"active_loan":        u.ActiveLoan,
		"bi_checking_status": u.BICheckingStatus,
	}
}
