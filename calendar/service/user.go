package service

import (
	"context"
	"fmt"
	"time"

	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/calendar/repository"
	"github.com/yoavra/yoman/pkg/clock"
)

type UserService struct {
	repo  *repository.CalendarGormRepository
	clock clock.Clock
}

func NewUserService(repo *repository.CalendarGormRepository, clk clock.Clock) *UserService {
	return &UserService{repo: repo, clock: clk}
}

func (s *UserService) ByPhone(ctx context.Context, phone string) (domain.User, error) {
	return s.repo.GetUserByPhone(ctx, phone)
}

type PreferencesUpdate struct {
	Timezone           *string
	Language           *string
	DefaultCity        *string
	DefaultDurationMin *int
	SummaryEnabled     *bool
	SummaryHour        *int
	SummaryDays        *int
	SummaryMemos       *bool
}

func (s *UserService) UpdatePreferences(ctx context.Context, user domain.User, upd PreferencesUpdate) (domain.User, error) {
	if upd.Timezone != nil {
		if _, err := time.LoadLocation(*upd.Timezone); err != nil {
			return domain.User{}, fmt.Errorf("%w: unknown timezone %q", domain.ErrInvalidInput, *upd.Timezone)
		}
		user.Timezone = *upd.Timezone
	}
	if upd.Language != nil {
		if *upd.Language != "he" && *upd.Language != "en" {
			return domain.User{}, fmt.Errorf("%w: unsupported language %q", domain.ErrInvalidInput, *upd.Language)
		}
		user.Language = *upd.Language
	}
	if upd.DefaultCity != nil {
		user.DefaultCity = *upd.DefaultCity
	}
	if upd.DefaultDurationMin != nil {
		if *upd.DefaultDurationMin < 5 || *upd.DefaultDurationMin > 24*60 {
			return domain.User{}, fmt.Errorf("%w: duration out of range", domain.ErrInvalidInput)
		}
		user.DefaultDurationMin = *upd.DefaultDurationMin
	}
	if upd.SummaryEnabled != nil {
		user.SummaryEnabled = *upd.SummaryEnabled
	}
	if upd.SummaryHour != nil {
		if *upd.SummaryHour < 0 || *upd.SummaryHour > 23 {
			return domain.User{}, fmt.Errorf("%w: hour out of range", domain.ErrInvalidInput)
		}
		user.SummaryHour = *upd.SummaryHour
	}
	if upd.SummaryDays != nil {
		if *upd.SummaryDays < 0 || *upd.SummaryDays > 127 {
			return domain.User{}, fmt.Errorf("%w: day mask out of range", domain.ErrInvalidInput)
		}
		user.SummaryDays = *upd.SummaryDays
	}
	if upd.SummaryMemos != nil {
		user.SummaryMemos = *upd.SummaryMemos
	}
	user.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}
