package database

import (
	"context"
	"fmt"
	"strings"

	"neonetworker/internal/domain"
	"neonetworker/internal/models"

	"github.com/google/uuid"
)

// taskOrder sorts by due date with undated tasks last, newest first within ties.
const taskOrder = "CASE WHEN due_date IS NULL THEN 1 ELSE 0 END, due_date ASC, created_at DESC"

func (db *DB) CreateTask(ctx context.Context, task *models.Task) error {
	active := task.IsActive
	if err := db.gorm.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", mapError(err))
	}
	// is_active has a column default of true, which GORM applies over a false
	// zero value on insert.
	if !active {
		if err := db.gorm.WithContext(ctx).Model(task).Update("is_active", false).Error; err != nil {
			return fmt.Errorf("create task: %w", err)
		}
	}
	return nil
}

func (db *DB) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	if err := db.gorm.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, mapError(err)
	}
	return &task, nil
}

func (db *DB) UpdateTask(ctx context.Context, task *models.Task) error {
	if err := db.gorm.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("update task: %w", mapError(err))
	}
	return nil
}

func (db *DB) DeleteTask(ctx context.Context, id uuid.UUID) error {
	res := db.gorm.WithContext(ctx).Delete(&models.Task{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListTasks applies filter to the owner's tasks. Without an explicit status,
// done and cancelled tasks are hidden unless IncludeDone is set, and scheduled
// tasks are hidden unless IncludeScheduled is set.
func (db *DB) ListTasks(ctx context.Context, ownerID uuid.UUID, filter domain.TaskFilter) ([]*models.Task, error) {
	q := db.gorm.WithContext(ctx).Where("owner_id = ?", ownerID)

	if !filter.IncludeInactive {
		q = q.Where("is_active = ?", true)
	}
	if p := strings.TrimSpace(filter.Project); p != "" {
		q = q.Where("LOWER(project) = ?", strings.ToLower(p))
	}
	switch {
	case filter.Status != "":
		q = q.Where("status = ?", filter.Status)
	case !filter.IncludeDone:
		q = q.Where("status NOT IN ?", []string{models.TaskStatusDone, models.TaskStatusCancelled})
	}
	if !filter.IncludeScheduled {
		q = q.Where("is_scheduled = ?", false)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		term := likeTerm(s)
		q = q.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", term, term)
	}

	var tasks []*models.Task
	if err := q.Order(taskOrder).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ListProjects returns the distinct non-empty project names of active tasks.
func (db *DB) ListProjects(ctx context.Context, ownerID uuid.UUID) ([]string, error) {
	var projects []string
	err := db.gorm.WithContext(ctx).
		Model(&models.Task{}).
		Where("owner_id = ? AND is_active = ? AND project <> ''", ownerID, true).
		Distinct().
		Order("project").
		Pluck("project", &projects).Error
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}
