package session

import (
	"context"
	"errors"

	"github.com/auditup/authgate/internal/oidc"
	"github.com/auditup/authgate/internal/profile"
)

// ErrNotFound indicates no snapshot exists for the session id.
var ErrNotFound = errors.New("session not found")

// ErrIncompleteSnapshot indicates an attempt to store tokens without a
// profile or the other way around. The pair is committed atomically or
// not at all.
var ErrIncompleteSnapshot = errors.New("incomplete session snapshot")

// Snapshot is the atomic unit of session state: one complete token set
// and the matching canonical profile.
type Snapshot struct {
	Tokens  *oidc.TokenSet `json:"tokens"`
	Profile *profile.User  `json:"profile"`
}

// Complete reports whether the snapshot can be committed.
func (s *Snapshot) Complete() bool {
	return s != nil && s.Tokens.Valid() && s.Profile != nil
}

// Store is the session repository. All components depend on this
// interface, never on a storage primitive directly. Writers are not
// synchronized against each other; mutation is last-write-wins and
// consistency across consumers comes from the Broadcaster.
type Store interface {
	// Get returns the snapshot for a session id, or ErrNotFound.
	Get(ctx context.Context, sid string) (*Snapshot, error)

	// Put commits a complete snapshot, replacing any previous one.
	// Incomplete snapshots are rejected with ErrIncompleteSnapshot.
	Put(ctx context.Context, sid string, snap *Snapshot) error

	// Clear destroys the snapshot for a session id. Clearing an absent
	// session is not an error.
	Clear(ctx context.Context, sid string) error
}

// notifyingStore wraps a Store and publishes a change event after every
// successful mutation.
type notifyingStore struct {
	inner Store
	bus   *Broadcaster
}

// NewNotifyingStore decorates a Store with change notification.
func NewNotifyingStore(inner Store, bus *Broadcaster) Store {
	return &notifyingStore{inner: inner, bus: bus}
}

func (s *notifyingStore) Get(ctx context.Context, sid string) (*Snapshot, error) {
	return s.inner.Get(ctx, sid)
}

func (s *notifyingStore) Put(ctx context.Context, sid string, snap *Snapshot) error {
	if err := s.inner.Put(ctx, sid, snap); err != nil {
		return err
	}
	s.bus.Publish(Event{SID: sid, Kind: EventCommitted})
	return nil
}

func (s *notifyingStore) Clear(ctx context.Context, sid string) error {
	if err := s.inner.Clear(ctx, sid); err != nil {
		return err
	}
	s.bus.Publish(Event{SID: sid, Kind: EventCleared})
	return nil
}
