package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/user/breathlab/internal/notify"
	"github.com/user/breathlab/internal/state"
	"github.com/user/breathlab/internal/types"
)

// Archiver receives finished results for cross-session storage.
type Archiver interface {
	Insert(ctx context.Context, res *Result) error
}

// StoreSink persists sessions to the file stores: the session index, the
// per-session event log and result document, and optionally the archive.
type StoreSink struct {
	Sessions     types.SessionStore
	Events       types.EventStore
	Results      types.ResultStore
	Participants *state.ParticipantStore
	Archive      Archiver
}

// Open registers the session in the index.
func (s *StoreSink) Open(ctx context.Context, info Info) error {
	participant := info.Participant
	if participant == "" {
		participant = "anonymous"
	}
	kind := info.Level.String()
	if info.Trial {
		kind = "trial"
	}
	_, err := s.Sessions.Create(ctx, &types.SessionIndex{
		SessionID:   info.SessionID,
		SessionKey:  types.NewSessionKey(participant, kind, info.StartedAt.Format("20060102T150405")),
		Participant: info.Participant,
		Level:       info.Level.String(),
		Trial:       info.Trial,
	})
	return err
}

// Listener appends every notification to the session event log.
func (s *StoreSink) Listener() notify.Listener {
	return func(n notify.Notification) error {
		payload, err := json.Marshal(n.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", n.Kind, err)
		}
		return s.Events.Append(context.Background(), &types.Event{
			SessionID: n.SessionID,
			Type:      n.Kind,
			Source:    "runner",
			At:        n.At,
			Payload:   payload,
		})
	}
}

// Close writes the result document and marks the session in the index.
func (s *StoreSink) Close(ctx context.Context, res *Result) error {
	if err := s.Results.Put(ctx, res.SessionID, res); err != nil {
		return fmt.Errorf("store result: %w", err)
	}

	idx, err := s.Sessions.Get(ctx, res.SessionID)
	if err != nil {
		return err
	}
	idx.Status = res.Status
	if n, err := s.Events.Count(ctx, res.SessionID); err == nil {
		idx.LastEventSeq = n
	}
	if err := s.Sessions.Update(ctx, idx); err != nil {
		return fmt.Errorf("update session index: %w", err)
	}

	if s.Participants != nil && res.Participant != "" && !res.Trial {
		if err := s.Participants.RecordLevel(res.Participant, res.Level.String()); err != nil && !errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("record participant level: %w", err)
		}
	}

	if s.Archive != nil {
		if err := s.Archive.Insert(ctx, res); err != nil {
			// the result document is already durable
			slog.Warn("archive insert failed", "session_id", res.SessionID, "error", err)
		}
	}
	return nil
}
