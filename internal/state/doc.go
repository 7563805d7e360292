// Package state keeps breathlab's records on disk under the data directory:
//
//	participants.json               registered participants
//	sessions/sessions.json          session index
//	sessions/<id>/events.jsonl      session event log
//	sessions/<id>/result.json       result document
package state

import "github.com/user/breathlab/internal/types"

var (
	_ types.SessionStore = (*SessionStore)(nil)
	_ types.EventStore   = (*EventStore)(nil)
	_ types.ResultStore  = (*ResultStore)(nil)
)
