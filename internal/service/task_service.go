package service

import (
	"context"
	"strings"

	"neonetworker/internal/domain"
	"neonetworker/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TaskInput carries a create or a partial update. Dates use ParseDateTime
// formats; an empty string clears the date.
type TaskInput struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	Project       *string `json:"project"`
	Status        *string `json:"status"`
	Priority      *string `json:"priority"`
	DueDate       *string `json:"due_date"`
	ScheduledDate *string `json:"scheduled_date"`
	IsScheduled   *bool   `json:"is_scheduled"`
	IsActive      *bool   `json:"is_active"`
}

type TaskService struct {
	tasks  domain.TaskRepository
	logger *zerolog.Logger
}

func NewTaskService(tasks domain.TaskRepository, logger *zerolog.Logger) *TaskService {
	return &TaskService{
		tasks:  tasks,
		logger: logger,
	}
}

func (s *TaskService) List(ctx context.Context, user *models.User, filter domain.TaskFilter) ([]*models.Task, error) {
	if filter.Status != "" {
		status, ok := models.NormalizeTaskStatus(filter.Status)
		if !ok {
			return nil, domain.Invalid("status", "unknown status %q", filter.Status)
		}
		filter.Status = status
	}
	return s.tasks.ListTasks(ctx, user.ID, filter)
}

func (s *TaskService) Projects(ctx context.Context, user *models.User) ([]string, error) {
	return s.tasks.ListProjects(ctx, user.ID)
}

func (s *TaskService) Get(ctx context.Context, user *models.User, id uuid.UUID) (*models.Task, error) {
	t, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != user.ID {
		return nil, domain.ErrForbidden
	}
	return t, nil
}

func (s *TaskService) Create(ctx context.Context, user *models.User, in TaskInput) (*models.Task, error) {
	t := &models.Task{
		OwnerID:  user.ID,
		Status:   models.TaskStatusTodo,
		Priority: models.PriorityMedium,
		IsActive: true,
	}
	if err := applyTaskInput(t, in); err != nil {
		return nil, err
	}
	if t.Title == "" {
		return nil, domain.Invalid("title", "is required")
	}
	if err := s.tasks.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TaskService) Update(ctx context.Context, user *models.User, id uuid.UUID, in TaskInput) (*models.Task, error) {
	t, err := s.Get(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if err := applyTaskInput(t, in); err != nil {
		return nil, err
	}
	if t.Title == "" {
		return nil, domain.Invalid("title", "is required")
	}
	if err := s.tasks.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TaskService) Delete(ctx context.Context, user *models.User, id uuid.UUID) error {
	if _, err := s.Get(ctx, user, id); err != nil {
		return err
	}
	return s.tasks.DeleteTask(ctx, id)
}

// FindByTitle returns active tasks whose title contains title, any status.
func (s *TaskService) FindByTitle(ctx context.Context, user *models.User, title string) ([]*models.Task, error) {
	return s.tasks.ListTasks(ctx, user.ID, domain.TaskFilter{
		Search:           title,
		IncludeDone:      true,
		IncludeScheduled: true,
	})
}

func applyTaskInput(t *models.Task, in TaskInput) error {
	if in.Title != nil {
		t.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		t.Description = strings.TrimSpace(*in.Description)
	}
	if in.Project != nil {
		t.Project = strings.TrimSpace(*in.Project)
	}
	if in.Status != nil {
		status, ok := models.NormalizeTaskStatus(*in.Status)
		if !ok {
			return domain.Invalid("status", "must be one of %s", strings.Join(models.TaskStatuses, ", "))
		}
		t.Status = status
	}
	if in.Priority != nil {
		p := strings.ToLower(strings.TrimSpace(*in.Priority))
		if p == "" {
			p = models.PriorityMedium
		}
		if !models.OneOf(p, models.Priorities) {
			return domain.Invalid("priority", "must be one of %s", strings.Join(models.Priorities, ", "))
		}
		t.Priority = p
	}

	if in.DueDate != nil {
		due, err := parseOptionalTime("due_date", in.DueDate)
		if err != nil {
			return err
		}
		t.DueDate = due
	}
	if in.ScheduledDate != nil {
		sched, err := parseOptionalTime("scheduled_date", in.ScheduledDate)
		if err != nil {
			return err
		}
		t.ScheduledDate = sched
		if in.IsScheduled == nil {
			t.IsScheduled = sched != nil
		}
	}
	if in.IsScheduled != nil {
		t.IsScheduled = *in.IsScheduled
	}
	if in.IsActive != nil {
		t.IsActive = *in.IsActive
	}
	return nil
}
