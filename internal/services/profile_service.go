package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"flowroom/internal/database"
	"flowroom/internal/models"

	"github.com/patrickmn/go-cache"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ProfileService looks up user profiles for the presence join. Profiles
// change rarely, so lookups are cached for a few minutes.
type ProfileService struct {
	users *mongo.Collection
	cache *cache.Cache
}

// NewProfileService creates a profile service over the shared users collection
func NewProfileService(mongoDB *database.MongoDB) *ProfileService {
	return &ProfileService{
		users: mongoDB.Database().Collection(database.CollectionUsers),
		cache: cache.New(5*time.Minute, 10*time.Minute),
	}
}

// GetProfile returns one user's profile, from cache when possible
func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	if cached, found := s.cache.Get(userID); found {
		return cached.(*models.UserProfile), nil
	}

	var profile models.UserProfile
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&profile)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", userID, err)
	}

	s.cache.Set(userID, &profile, cache.DefaultExpiration)
	return &profile, nil
}

// GetProfiles returns profiles for a set of users, keyed by user id. Missing
// users are simply absent from the result.
func (s *ProfileService) GetProfiles(ctx context.Context, userIDs []string) (map[string]*models.UserProfile, error) {
	result := make(map[string]*models.UserProfile, len(userIDs))

	var misses []string
	for _, id := range userIDs {
		if cached, found := s.cache.Get(id); found {
			result[id] = cached.(*models.UserProfile)
		} else {
			misses = append(misses, id)
		}
	}

	if len(misses) == 0 {
		return result, nil
	}

	cursor, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": misses}})
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var profile models.UserProfile
		if err := cursor.Decode(&profile); err != nil {
			log.Printf("[PROFILES] Failed to decode profile: %v", err)
			continue
		}
		result[profile.ID] = &profile
		s.cache.Set(profile.ID, &profile, cache.DefaultExpiration)
	}

	return result, cursor.Err()
}
