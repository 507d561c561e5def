package service

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/calendar/repository"
	"github.com/yoavra/yoman/hebrew/fuzzy"
	"github.com/yoavra/yoman/pkg/clock"
)

type TaskService struct {
	repo  *repository.CalendarGormRepository
	clock clock.Clock
}

func NewTaskService(repo *repository.CalendarGormRepository, clk clock.Clock) *TaskService {
	return &TaskService{repo: repo, clock: clk}
}

type CreateTaskRequest struct {
	User   domain.User
	Title  string
	Notes  string
	DueUTC *time.Time
}

func (s *TaskService) Create(ctx context.Context, req CreateTaskRequest) (domain.Task, error) {
	if err := validation.ValidateStructWithContext(ctx, &req,
		validation.Field(&req.Title, validation.Required, validation.Length(1, 200)),
	); err != nil {
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)
	}
	now := s.clock.Now()
	task := domain.Task{
		ID:        uuid.NewString(),
		UserID:    req.User.ID,
		Title:     req.Title,
		Notes:     req.Notes,
		DueUTC:    req.DueUTC,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (s *TaskService) List(ctx context.Context, user domain.User, openOnly bool) ([]domain.Task, error) {
	return s.repo.ListTasks(ctx, user.ID, openOnly)
}

func (s *TaskService) Find(ctx context.Context, user domain.User, query string, threshold float64) (domain.Task, []domain.Task, error) {
	tasks, err := s.repo.ListTasks(ctx, user.ID, true)
	if err != nil {
		return domain.Task{}, nil, err
	}
	titles := make([]string, len(tasks))
	for i, t := range tasks {
		titles[i] = t.Title
	}
	best, ambiguous, ok := fuzzy.Resolve(query, titles, threshold)
	if ok {
		return tasks[best.Index], nil, nil
	}
	if len(ambiguous) > 0 {
		candidates := make([]domain.Task, len(ambiguous))
		for i, m := range ambiguous {
			candidates[i] = tasks[m.Index]
		}
		return domain.Task{}, candidates, domain.ErrAmbiguousMatch
	}
	return domain.Task{}, nil, domain.ErrNoMatch
}

// Complete marks a task done, keeping the row for history.
func (s *TaskService) Complete(ctx context.Context, user domain.User, id string) (domain.Task, error) {
	task, err := s.repo.GetTask(ctx, user.ID, id)
	if err != nil {
		return domain.Task{}, err
	}
	now := s.clock.Now()
	task.Done = true
	task.CompletedAt = &now
	task.UpdatedAt = now
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (s *TaskService) Delete(ctx context.Context, user domain.User, id string) error {
	if _, err := s.repo.GetTask(ctx, user.ID, id); err != nil {
		return err
	}
	return s.repo.DeleteTask(ctx, user.ID, id)
}
