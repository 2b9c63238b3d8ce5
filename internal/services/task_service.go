package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flowroom/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Task status values as stored by the task CRUD service.
const (
	TaskStatusInProgress = "in_progress"
	TaskStatusPaused     = "paused"
)

// ErrTaskNotFound is returned when a task id has no backing document.
var ErrTaskNotFound = errors.New("task not found")

// TaskService reads task status and pauses tasks on behalf of the presence
// arbiter. Task CRUD itself belongs to the main product service; this is the
// collaborator surface only.
type TaskService struct {
	tasks *mongo.Collection
}

// NewTaskService creates a task service over the shared tasks collection
func NewTaskService(mongoDB *database.MongoDB) *TaskService {
	return &TaskService{
		tasks: mongoDB.Database().Collection(database.CollectionTasks),
	}
}

// Status returns the task's current status string
func (s *TaskService) Status(ctx context.Context, taskID string) (string, error) {
	var doc struct {
		Status string `bson:"status"`
	}

	err := s.tasks.FindOne(ctx, bson.M{"_id": taskID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", ErrTaskNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read task %s: %w", taskID, err)
	}

	return doc.Status, nil
}

// Pause transitions a task to paused. Pausing an already-paused task is a no-op.
func (s *TaskService) Pause(ctx context.Context, taskID string) error {
	_, err := s.tasks.UpdateOne(ctx,
		bson.M{"_id": taskID},
		bson.M{"$set": bson.M{
			"status":   TaskStatusPaused,
			"pausedAt": time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("pause task %s: %w", taskID, err)
	}
	return nil
}
