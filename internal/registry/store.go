package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Session is registry metadata only. Document content lives in the hub
// for the life of the session process and is never persisted here.
type Session struct {
	ID        string `json:"sessionId"`
	Name      string `json:"sessionName"`
	Owner     string `json:"owner"`
	CreatedAt string `json:"createdAt"`
}

// SessionEndedEvent is published when a session's last connection
// detaches and its hub state is discarded.
type SessionEndedEvent struct {
	SessionID string `json:"sessionId"`
	EndedAt   string `json:"endedAt"`
}

var ErrNotFound = errors.New("session not found")

// Store keeps session registry records in Redis: one hash per session
// plus a per-owner set of session ids.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func sessionKey(id string) string  { return "session:" + id }
func ownerKey(owner string) string { return "owner_sessions:" + owner }

func (s *Store) Create(ctx context.Context, name, owner string) (Session, error) {
	sess := Session{
		ID:        uuid.NewString(),
		Name:      name,
		Owner:     owner,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.rdb.HSet(ctx, sessionKey(sess.ID), map[string]interface{}{
		"name":       sess.Name,
		"owner":      sess.Owner,
		"created_at": sess.CreatedAt,
	}).Err(); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}
	if err := s.rdb.SAdd(ctx, ownerKey(owner), sess.ID).Err(); err != nil {
		return Session{}, fmt.Errorf("index session by owner: %w", err)
	}
	return sess, nil
}

func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	fields, err := s.rdb.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return Session{}, err
	}
	if len(fields) == 0 {
		return Session{}, ErrNotFound
	}
	return Session{
		ID:        id,
		Name:      fields["name"],
		Owner:     fields["owner"],
		CreatedAt: fields["created_at"],
	}, nil
}

func (s *Store) ListByOwner(ctx context.Context, owner string) ([]Session, error) {
	ids, err := s.rdb.SMembers(ctx, ownerKey(owner)).Result()
	if err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Stale index entry; drop it and move on.
			s.rdb.SRem(ctx, ownerKey(owner), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, sessionKey(id)).Err(); err != nil {
		return err
	}
	return s.rdb.SRem(ctx, ownerKey(sess.Owner), id).Err()
}

// PublishSessionEnded notifies interested services that a session's
// live state was discarded.
func (s *Store) PublishSessionEnded(ctx context.Context, sessionID string) error {
	payload, err := json.Marshal(SessionEndedEvent{
		SessionID: sessionID,
		EndedAt:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, "session_ended", payload).Err()
}
