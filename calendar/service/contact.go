package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoavra/yoman/calendar/domain"
	"github.com/yoavra/yoman/calendar/repository"
	"github.com/yoavra/yoman/hebrew/fuzzy"
	"github.com/yoavra/yoman/pkg/clock"
)

type ContactService struct {
	repo  *repository.CalendarGormRepository
	clock clock.Clock
}

func NewContactService(repo *repository.CalendarGormRepository, clk clock.Clock) *ContactService {
	return &ContactService{repo: repo, clock: clk}
}

func (s *ContactService) Create(ctx context.Context, user domain.User, name, phone string) (domain.Contact, error) {
	if name == "" {
		return domain.Contact{}, fmt.Errorf("%w: contact name required", domain.ErrInvalidInput)
	}
	contact := domain.Contact{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Name:      name,
		Phone:     phone,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.CreateContact(ctx, contact); err != nil {
		return domain.Contact{}, err
	}
	return contact, nil
}

func (s *ContactService) List(ctx context.Context, user domain.User) ([]domain.Contact, error) {
	return s.repo.ListContacts(ctx, user.ID)
}

// Resolve matches a mentioned name against the user's contacts, aliases
// included. A miss is not an error: participants may be free-text names.
func (s *ContactService) Resolve(ctx context.Context, user domain.User, name string) (domain.Contact, bool, error) {
	contacts, err := s.repo.ListContacts(ctx, user.ID)
	if err != nil {
		return domain.Contact{}, false, err
	}
	var names []string
	var owners []int
	for i, c := range contacts {
		names = append(names, c.Name)
		owners = append(owners, i)
		for _, a := range c.Aliases {
			names = append(names, a)
			owners = append(owners, i)
		}
	}
	best, _, ok := fuzzy.Resolve(name, names, fuzzy.SearchThreshold)
	if !ok {
		return domain.Contact{}, false, nil
	}
	return contacts[owners[best.Index]], true, nil
}

// Learn records a spelling the user used for an existing contact, so the next
// mention resolves directly.
func (s *ContactService) Learn(ctx context.Context, contact domain.Contact, alias string) error {
	if alias == "" || fuzzy.Normalize(alias) == fuzzy.Normalize(contact.Name) {
		return nil
	}
	for _, a := range contact.Aliases {
		if fuzzy.Normalize(a) == fuzzy.Normalize(alias) {
			return nil
		}
	}
	contact.Aliases = append(contact.Aliases, alias)
	if err := s.repo.UpdateContact(ctx, contact); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"contact_id": contact.ID, "alias": alias}).Debug("[CONTACT] alias learned")
	return nil
}

func (s *ContactService) Delete(ctx context.Context, user domain.User, id string) error {
	return s.repo.DeleteContact(ctx, user.ID, id)
}
