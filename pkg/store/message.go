// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/federation-bridge/pkg/bridge"
)

const (
	getMessageBaseQuery = `
		SELECT id, room_id, sender_id, text, thread_id, show_in_main_thread, thread_count,
		       attachments, files, encrypted, edited, deleted, event_id, bridge_state
		FROM fed_message
	`
	getMessageByIDQuery         = getMessageBaseQuery + `WHERE id=$1`
	getMessageByExternalIDQuery = getMessageBaseQuery + `WHERE event_id=$1 AND bridge_state<>0`
	getLatestThreadMessageQuery = getMessageBaseQuery + `
		WHERE thread_id=$1 AND id<>$2 AND event_id IS NOT NULL AND bridge_state<>0
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	insertMessageQuery = `
		INSERT INTO fed_message (
			id, room_id, sender_id, text, thread_id, show_in_main_thread, thread_count,
			attachments, files, encrypted, edited, deleted, event_id, bridge_state, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT DO NOTHING
	`
	incrementThreadCountQuery = `UPDATE fed_message SET thread_count=thread_count+1 WHERE id=$1`
	setMessageEventIDQuery    = `UPDATE fed_message SET event_id=$2, bridge_state=$3 WHERE id=$1`
	updateMessageQuery        = `
		UPDATE fed_message
		SET text=$2, attachments=$3, files=$4, encrypted=$5, edited=$6, show_in_main_thread=$7
		WHERE id=$1
	`
	deleteMessageQuery = `
		UPDATE fed_message
		SET deleted=true, deleted_by=$2, text='', attachments=NULL, files=NULL, encrypted=NULL
		WHERE id=$1
	`
)

type messageRow struct {
	bridge.Message
}

func (m *messageRow) Scan(row dbutil.Scannable) (*messageRow, error) {
	var threadID, eventID *string
	err := row.Scan(
		&m.ID, &m.RoomID, &m.SenderID, &m.Text, &threadID, &m.ShowInMainThread, &m.ThreadCount,
		dbutil.JSON{Data: &m.Attachments}, dbutil.JSON{Data: &m.Files}, dbutil.JSON{Data: &m.Encrypted},
		&m.Edited, &m.Deleted, &eventID, &m.Federation.State,
	)
	if err != nil {
		return nil, err
	}
	m.ThreadID = derefString(threadID)
	m.Federation.EventID = id.EventID(derefString(eventID))
	return m, nil
}

func messageOrNil(row *messageRow, err error) (*bridge.Message, error) {
	if row == nil || err != nil {
		return nil, err
	}
	return &row.Message, nil
}

func jsonList[T any](list []T) dbutil.JSON {
	if len(list) == 0 {
		return dbutil.JSON{}
	}
	return dbutil.JSON{Data: list}
}

func (s *Store) GetMessageByID(ctx context.Context, messageID string) (*bridge.Message, error) {
	return messageOrNil(s.messages.QueryOne(ctx, getMessageByIDQuery, messageID))
}

func (s *Store) GetMessageByExternalID(ctx context.Context, eventID id.EventID) (*bridge.Message, error) {
	return messageOrNil(s.messages.QueryOne(ctx, getMessageByExternalIDQuery, eventID))
}

func (s *Store) GetLatestThreadMessage(ctx context.Context, threadID, excludeID string) (*bridge.Message, error) {
	return messageOrNil(s.messages.QueryOne(ctx, getLatestThreadMessageQuery, threadID, excludeID))
}

func (s *Store) SetMessageEventID(ctx context.Context, messageID string, eventID id.EventID, state bridge.BridgeState) error {
	res, err := s.DB.Exec(ctx, setMessageEventIDQuery, messageID, nullString(eventID), state)
	if err != nil {
		return fmt.Errorf("failed to set event ID of message %s: %w", messageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s not found", messageID)
	}
	return nil
}

// SaveMessage inserts msg. Saving a second message with an event ID that is
// already stored leaves the table unchanged, gives msg the stored ID and
// reports created as false.
func (s *Store) SaveMessage(ctx context.Context, msg *bridge.Message) (created bool, err error) {
	newID := uuid.NewString()
	err = s.DB.DoTxn(ctx, nil, func(ctx context.Context) error {
		res, err := s.DB.Exec(ctx, insertMessageQuery,
			newID, msg.RoomID, msg.SenderID, msg.Text, nullString(msg.ThreadID), msg.ShowInMainThread, msg.ThreadCount,
			jsonList(msg.Attachments), jsonList(msg.Files), dbutil.JSONPtr(msg.Encrypted),
			msg.Edited, msg.Deleted, nullString(msg.Federation.EventID), msg.Federation.State,
			time.Now().UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			existing, err := s.GetMessageByExternalID(ctx, msg.Federation.EventID)
			if err != nil {
				return err
			} else if existing == nil {
				return fmt.Errorf("message insert for %s was ignored", msg.Federation.EventID)
			}
			msg.ID = existing.ID
			return nil
		}
		msg.ID = newID
		created = true
		if msg.ThreadID != "" {
			if _, err = s.DB.Exec(ctx, incrementThreadCountQuery, msg.ThreadID); err != nil {
				return fmt.Errorf("failed to update thread count: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *Store) UpdateMessage(ctx context.Context, msg *bridge.Message) error {
	return s.messages.Exec(ctx, updateMessageQuery, msg.ID, msg.Text,
		jsonList(msg.Attachments), jsonList(msg.Files), dbutil.JSONPtr(msg.Encrypted),
		msg.Edited, msg.ShowInMainThread)
}

func (s *Store) DeleteMessage(ctx context.Context, messageID, actorID string) error {
	return s.messages.Exec(ctx, deleteMessageQuery, messageID, nullString(actorID))
}
