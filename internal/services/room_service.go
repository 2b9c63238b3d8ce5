package services

import (
	"context"
	"fmt"
	"log"

	"flowroom/internal/database"
	"flowroom/internal/models"
)

// RoomMembershipService removes users from room membership rows when their
// last live tab leaves a room. Room CRUD lives in the main product service.
type RoomMembershipService struct {
	db *database.DB
}

// NewRoomMembershipService creates a room membership service
func NewRoomMembershipService(db *database.DB) *RoomMembershipService {
	return &RoomMembershipService{db: db}
}

// RemoveUserFromRoom deletes the user's membership row for the room. Safe to
// call for a user who is no longer a member.
func (s *RoomMembershipService) RemoveUserFromRoom(ctx context.Context, roomID, userID, roomType string) error {
	table := "room_members"
	if roomType == models.RoomTypePrivate {
		table = "private_room_members"
	}

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM "+table+" WHERE room_id = ? AND user_id = ?",
		roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove %s from %s: %w", userID, roomID, err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		log.Printf("[MEMBERSHIP] Removed user %s from %s room %s", userID, roomType, roomID)
	}
	return nil
}
