// Package auth handles registration and PIN login over WhatsApp. The PIN
// hash is durable; the logged-in flag, failure counters and lockouts live in
// the ephemeral store.
package auth

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/calendar/repository"
	"github.com/yoavra/yoman/config"
	"github.com/yoavra/yoman/infrastructure/ephemeral"
	"github.com/yoavra/yoman/pkg/clock"
)

var rePIN = regexp.MustCompile(`^\d{4,8}$`)

type Service struct {
	repo  *repository.CalendarGormRepository
	kv    ephemeral.KV
	clock clock.Clock
}

func NewService(repo *repository.CalendarGormRepository, kv ephemeral.KV, clk clock.Clock) *Service {
	return &Service{repo: repo, kv: kv, clock: clk}
}

func authedKey(phone string) string { return "auth:ok:" + phone }
func failKey(phone string) string   { return "auth:fail:" + phone }
func lockKey(phone string) string   { return "auth:lock:" + phone }

// Register creates a user with a hashed PIN and logs them in.
func (s *Service) Register(ctx context.Context, phone, name, pin string) (domain.User, error) {
	if name == "" {
		return domain.User{}, fmt.Errorf("%w: name required", domain.ErrInvalidInput)
	}
	if !rePIN.MatchString(pin) {
		return domain.User{}, fmt.Errorf("%w: pin must be 4-8 digits", domain.ErrInvalidInput)
	}
	if _, err := s.repo.GetUserByPhone(ctx, phone); err == nil {
		return domain.User{}, domain.ErrDuplicatePhone
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash pin: %w", err)
	}

	now := s.clock.Now()
	user := domain.User{
		ID:                 uuid.NewString(),
		Phone:              phone,
		Name:               name,
		PINHash:            string(hash),
		Timezone:           config.DefaultTimezone,
		Language:           config.DefaultLanguage,
		DefaultCity:        config.DefaultLocation,
		DefaultDurationMin: config.DefaultEventDurationMinutes,
		SummaryEnabled:     true,
		SummaryHour:        8,
		SummaryDays:        127,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	if err := s.kv.Set(ctx, authedKey(phone), user.ID, config.AuthTTL); err != nil {
		logrus.WithError(err).Warn("[AUTH] failed to persist login state")
	}
	logrus.WithField("user_id", user.ID).Info("[AUTH] registered")
	return user, nil
}

// Login verifies the PIN. Three wrong attempts lock the account for the
// configured window; the counter resets on success.
func (s *Service) Login(ctx context.Context, phone, pin string) (domain.User, error) {
	if until, locked, err := s.lockedUntil(ctx, phone); err != nil {
		return domain.User{}, err
	} else if locked && s.clock.Now().Before(until) {
		return domain.User{}, domain.ErrLockedOut
	}

	user, err := s.repo.GetUserByPhone(ctx, phone)
	if err != nil {
		return domain.User{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PINHash), []byte(pin)) != nil {
		failures, ierr := s.kv.Incr(ctx, failKey(phone), config.LockoutDuration)
		if ierr != nil {
			logrus.WithError(ierr).Warn("[AUTH] failed to count login failure")
		}
		if failures >= int64(config.PINMaxFailures) {
			until := s.clock.Now().Add(config.LockoutDuration)
			_ = s.kv.Set(ctx, lockKey(phone), strconv.FormatInt(until.Unix(), 10), config.LockoutDuration)
			_ = s.kv.Delete(ctx, failKey(phone))
			logrus.WithField("phone", phone).Warn("[AUTH] account locked after repeated failures")
			return domain.User{}, domain.ErrLockedOut
		}
		return domain.User{}, domain.ErrInvalidPIN
	}

	_ = s.kv.Delete(ctx, failKey(phone))
	if err := s.kv.Set(ctx, authedKey(phone), user.ID, config.AuthTTL); err != nil {
		logrus.WithError(err).Warn("[AUTH] failed to persist login state")
	}
	return user, nil
}

// Authenticated reports whether the sender holds a live login.
func (s *Service) Authenticated(ctx context.Context, phone string) (bool, error) {
	_, ok, err := s.kv.Get(ctx, authedKey(phone))
	return ok, err
}

// Refresh extends the login window after an authenticated interaction. The
// key keeps holding the user id, same as Register and Login store.
func (s *Service) Refresh(ctx context.Context, phone, userID string) error {
	return s.kv.Set(ctx, authedKey(phone), userID, config.AuthTTL)
}

func (s *Service) Logout(ctx context.Context, phone string) error {
	return s.kv.Delete(ctx, authedKey(phone))
}

// Registered reports whether a user row exists for the phone.
func (s *Service) Registered(ctx context.Context, phone string) (bool, error) {
	_, err := s.repo.GetUserByPhone(ctx, phone)
	if err == nil {
		return true, nil
	}
	if err == domain.ErrUserNotFound {
		return false, nil
	}
	return false, err
}

func (s *Service) lockedUntil(ctx context.Context, phone string) (time.Time, bool, error) {
	raw, ok, err := s.kv.Get(ctx, lockKey(phone))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	unix, perr := strconv.ParseInt(raw, 10, 64)
	if perr != nil {
		return time.Time{}, false, nil
	}
	return time.Unix(unix, 0).UTC(), true, nil
}
