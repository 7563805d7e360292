// internal/types/interfaces.go
package types

import (
	"context"
)

type SessionStore interface {
	Create(ctx context.Context, index *SessionIndex) (SessionID, error)
	Get(ctx context.Context, id SessionID) (*SessionIndex, error)
	List(ctx context.Context) ([]*SessionIndex, error)
	Update(ctx context.Context, session *SessionIndex) error
}

type EventStore interface {
	Append(ctx context.Context, event *Event) error
	Tail(ctx context.Context, sessionID SessionID, limit int) ([]*Event, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
}

type ResultStore interface {
	Put(ctx context.Context, sessionID SessionID, result any) error
	Get(ctx context.Context, sessionID SessionID, into any) error
}
