// services/members.go
package services

import (
	"strconv"
	"strings"

	"dao-reputation-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// MemberService reads the local member mirror kept fresh by the sync worker.
type MemberService struct {
	DB *gorm.DB
}

func NewMemberService(db *gorm.DB) *MemberService {
	return &MemberService{DB: db}
}

// SearchMembers searches the local member mirror by username or email.
func (s *MemberService) SearchMembers(c *fiber.Ctx) error {
	query := c.Query("q", "")
	limitStr := c.Query("limit", "50")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 100 {
		limit = 50
	}

	var members []models.Member
	db := s.DB.Model(&models.Member{}).Limit(limit)

	if query != "" {
		searchTerm := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
		db = db.Where(
			"LOWER(username) LIKE ? OR LOWER(email) LIKE ?",
			searchTerm, searchTerm,
		)
	}

	if err := db.Find(&members).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "search failed", "details": err.Error()})
	}

	// Minimal response shape; the external user id is the identifier every
	// other endpoint keys on.
	type MemberSummary struct {
		ID             string `json:"id"`
		ExternalUserID string `json:"external_user_id"`
		Username       string `json:"username"`
		Email          string `json:"email"`
	}

	res := make([]MemberSummary, len(members))
	for i, m := range members {
		res[i] = MemberSummary{
			ID:             m.ID,
			ExternalUserID: m.ExternalUserID,
			Username:       m.Username,
			Email:          m.Email,
		}
	}

	return c.JSON(res)
}
