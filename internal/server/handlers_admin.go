package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (a *App) adminStats(c *gin.Context) {
	// TODO: add admin authentication
	totalUsers, activeUsers, err := a.loadAdminStats(c.Request.Context())
	if err != nil {
		a.serverError(c, "admin stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalUsers":  totalUsers,
		"activeUsers": activeUsers,
	})
}

func (a *App) listUsers(c *gin.Context) {
	// TODO: add admin authentication
	search := strings.TrimSpace(c.Query("search"))
	limit := parseQueryInt(c, "limit", 10)
	offset := parseQueryInt(c, "offset", 0)

	ctx := c.Request.Context()
	users, err := a.searchUsers(ctx, search, limit, offset)
	if err != nil {
		a.serverError(c, "admin users: search", err)
		return
	}
	totalCount, err := a.countUsers(ctx, search)
	if err != nil {
		a.serverError(c, "admin users: count", err)
		return
	}

	items := make([]gin.H, 0, len(users))
	for _, user := range users {
		items = append(items, gin.H{
			"id":            user.ID,
			"firebase_uid":  user.FirebaseUID,
			"email":         user.Email,
			"name":          user.Name,
			"avatar_url":    user.AvatarURL,
			"created_at":    user.CreatedAt.UTC(),
			"chat_count":    user.ChatCount,
			"last_activity": formatTimestamp(user.LastActivity),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"users":      items,
		"totalCount": totalCount,
		"hasMore":    offset+limit < totalCount,
	})
}

func (a *App) getUserDetail(c *gin.Context) {
	// TODO: add admin authentication
	userID, ok := parsePathID(c, "user_id")
	if !ok {
		writeError(c, http.StatusBadRequest, "Invalid user ID")
		return
	}

	detail, err := a.userWithFinancialInfo(c.Request.Context(), userID)
	if err != nil {
		a.serverError(c, "admin user detail", err)
		return
	}
	if detail == nil {
		writeError(c, http.StatusNotFound, "User not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": userDetailJSON(detail)})
}

func userDetailJSON(detail *userDetailRow) gin.H {
	return gin.H{
		"id":                        detail.ID,
		"firebase_uid":              detail.FirebaseUID,
		"email":                     detail.Email,
		"name":                      detail.Name,
		"avatar_url":                detail.AvatarURL,
		"user_created_at":           detail.CreatedAt.UTC(),
		"financial_info_id":         detail.FinancialInfoID,
		"gender":                    detail.Gender,
		"birthdate":                 formatDate(detail.Birthdate),
		"estimated_salary":          detail.EstimatedSalary,
		"country":                   detail.Country,
		"domicile":                  detail.Domicile,
		"active_loan":               detail.ActiveLoan,
		"bi_checking_status":        detail.BICheckingStatus,
		"financial_info_created_at": formatTimestamp(detail.FinancialInfoCreatedAt),
		"financial_info_updated_at": formatTimestamp(detail.FinancialInfoUpdatedAt),
	}
}
