package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/yoavra/yoman/infrastructure/valkey"
)

// ValkeyStore keeps sessions in Valkey as JSON blobs under a TTL.
type ValkeyStore struct {
	client *valkey.Client
	prefix string
}

func NewValkeyStore(client *valkey.Client) *ValkeyStore {
	return &ValkeyStore{
		client: client,
		prefix: client.Key("session") + ":",
	}
}

func (s *ValkeyStore) fullKey(phone string) string {
	return s.prefix + phone
}

func (s *ValkeyStore) inner() valkeylib.Client {
	return s.client.Inner()
}

func (s *ValkeyStore) Get(ctx context.Context, phone string) (*Session, error) {
	cmd := s.inner().B().Get().Key(s.fullKey(phone)).Build()
	data, err := s.inner().Do(ctx, cmd).AsBytes()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *ValkeyStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	sess.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	cmd := s.inner().B().Set().
		Key(s.fullKey(sess.Phone)).
		Value(string(data)).
		Ex(ttl).
		Build()
	if err := s.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *ValkeyStore) Delete(ctx context.Context, phone string) error {
	cmd := s.inner().B().Del().Key(s.fullKey(phone)).Build()
	if err := s.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
