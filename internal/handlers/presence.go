package handlers

import (
	"context"
	"log"
	"sort"

	"flowroom/internal/models"
	"flowroom/internal/presence"

	"github.com/gofiber/fiber/v2"
)

// ProfileLookup resolves user profiles for presence responses. May be nil
// when no user database is configured; responses then carry IDs only.
type ProfileLookup interface {
	GetProfiles(ctx context.Context, userIDs []string) (map[string]*models.UserProfile, error)
}

// PresenceHandler serves the read-side presence API
type PresenceHandler struct {
	registrar *presence.Registrar
	profiles  ProfileLookup
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(registrar *presence.Registrar, profiles ProfileLookup) *PresenceHandler {
	return &PresenceHandler{registrar: registrar, profiles: profiles}
}

// GetRoomPresence returns who is in a room right now, joined with profile
// fields and an online/active summary.
func (h *PresenceHandler) GetRoomPresence(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	if roomID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "roomId is required",
		})
	}

	entries, err := h.registrar.RoomEntries(c.Context(), roomID)
	if err != nil {
		log.Printf("❌ [PRESENCE] Room read failed for %s: %v", roomID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read room presence",
		})
	}

	userIDs := make([]string, 0, len(entries))
	for userID := range entries {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	var profiles map[string]*models.UserProfile
	if h.profiles != nil && len(userIDs) > 0 {
		profiles, err = h.profiles.GetProfiles(c.Context(), userIDs)
		if err != nil {
			// Profiles are decoration; presence still renders without them.
			log.Printf("⚠️  [PRESENCE] Profile join failed for room %s: %v", roomID, err)
		}
	}

	users := make([]models.PresenceUser, 0, len(userIDs))
	active := 0
	for _, userID := range userIDs {
		entry := entries[userID]
		user := models.PresenceUser{
			ID:              userID,
			IsActive:        entry.IsActive,
			JoinedAt:        entry.JoinedAt,
			LastUpdated:     entry.LastUpdated,
			CurrentTaskName: entry.CurrentTaskName,
		}
		if profile := profiles[userID]; profile != nil {
			user.Name = profile.Name
			user.AvatarURL = profile.AvatarURL
		}
		if entry.IsActive {
			active++
		}
		users = append(users, user)
	}

	return c.JSON(models.RoomPresenceResponse{
		RoomID: roomID,
		Users:  users,
		Summary: models.PresenceSummary{
			Total:  len(users),
			Active: active,
		},
	})
}
