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
	getRoomBaseQuery = `
		SELECT id, type, name, friendly_name, topic, federated, external_room_id, origin FROM fed_room
	`
	getRoomByIDQuery         = getRoomBaseQuery + `WHERE id=$1`
	getRoomByExternalIDQuery = getRoomBaseQuery + `WHERE external_room_id=$1`
	insertRoomQuery          = `
		INSERT INTO fed_room (id, type, name, friendly_name, topic, federated, external_room_id, origin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	setRoomFederationQuery = `UPDATE fed_room SET federated=true, external_room_id=$2, origin=$3 WHERE id=$1`
	setRoomNameQuery       = `UPDATE fed_room SET name=$2, friendly_name=$2 WHERE id=$1`
	setRoomTopicQuery      = `UPDATE fed_room SET topic=$2 WHERE id=$1`
	insertRoomChangeQuery  = `
		INSERT INTO fed_room_change (room_id, actor_id, field, value, changed_at) VALUES ($1, $2, $3, $4, $5)
	`
	addRoomMemberQuery = `
		INSERT INTO fed_room_member (room_id, user_id) VALUES ($1, $2)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`
	removeRoomMemberQuery = `DELETE FROM fed_room_member WHERE room_id=$1 AND user_id=$2`
	setRoomRoleQuery      = `
		INSERT INTO fed_room_member (room_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (room_id, user_id) DO UPDATE SET role=excluded.role
	`
	getRoomRoleQuery    = `SELECT role FROM fed_room_member WHERE room_id=$1 AND user_id=$2`
	isRoomMemberQuery   = `SELECT EXISTS(SELECT 1 FROM fed_room_member WHERE room_id=$1 AND user_id=$2)`
	getRoomChangesQuery = `SELECT actor_id, value FROM fed_room_change WHERE room_id=$1 AND field=$2 ORDER BY changed_at`
)

type roomRow struct {
	bridge.Room
}

func (r *roomRow) Scan(row dbutil.Scannable) (*roomRow, error) {
	var externalID, origin *string
	err := row.Scan(&r.ID, &r.Type, &r.Name, &r.FriendlyName, &r.Topic, &r.Federated, &externalID, &origin)
	if err != nil {
		return nil, err
	}
	if externalID != nil {
		r.Federation = &bridge.RoomFederation{
			ExternalRoomID: id.RoomID(*externalID),
			Origin:         derefString(origin),
		}
	}
	return r, nil
}

func roomOrNil(row *roomRow, err error) (*bridge.Room, error) {
	if row == nil || err != nil {
		return nil, err
	}
	return &row.Room, nil
}

func federationArgs(fed *bridge.RoomFederation) (externalID, origin *string) {
	if fed == nil || fed.ExternalRoomID == "" {
		return nil, nil
	}
	return nullString(fed.ExternalRoomID), nullString(fed.Origin)
}

func (s *Store) GetRoomByID(ctx context.Context, roomID string) (*bridge.Room, error) {
	return roomOrNil(s.rooms.QueryOne(ctx, getRoomByIDQuery, roomID))
}

func (s *Store) GetRoomByExternalID(ctx context.Context, externalID id.RoomID) (*bridge.Room, error) {
	return roomOrNil(s.rooms.QueryOne(ctx, getRoomByExternalIDQuery, externalID))
}

// putRoom inserts a room and assigns its ID if it has none.
func (s *Store) putRoom(ctx context.Context, room *bridge.Room) error {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	externalID, origin := federationArgs(room.Federation)
	err := s.rooms.Exec(ctx, insertRoomQuery,
		room.ID, room.Type, room.Name, room.FriendlyName, room.Topic, room.IsFederated(), externalID, origin)
	if err != nil {
		return fmt.Errorf("failed to insert room %s: %w", room.Name, err)
	}
	return nil
}

func (s *Store) SetRoomFederation(ctx context.Context, roomID string, fed bridge.RoomFederation) error {
	externalID, origin := federationArgs(&fed)
	res, err := s.DB.Exec(ctx, setRoomFederationQuery, roomID, externalID, origin)
	if err != nil {
		return fmt.Errorf("failed to set federation of room %s: %w", roomID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("room %s not found", roomID)
	}
	return nil
}

func (s *Store) recordRoomChange(ctx context.Context, query, roomID, actorID, field, value string) error {
	return s.DB.DoTxn(ctx, nil, func(ctx context.Context) error {
		if _, err := s.DB.Exec(ctx, query, roomID, value); err != nil {
			return err
		}
		_, err := s.DB.Exec(ctx, insertRoomChangeQuery, roomID, actorID, field, value, time.Now().UnixMilli())
		return err
	})
}

func (s *Store) SaveRoomName(ctx context.Context, roomID, actorID, name string) error {
	return s.recordRoomChange(ctx, setRoomNameQuery, roomID, actorID, "name", name)
}

func (s *Store) SaveRoomTopic(ctx context.Context, roomID, actorID, topic string) error {
	return s.recordRoomChange(ctx, setRoomTopicQuery, roomID, actorID, "topic", topic)
}

func (s *Store) SaveRoomRole(ctx context.Context, roomID, actorID, userID string, role bridge.Role) error {
	return s.DB.DoTxn(ctx, nil, func(ctx context.Context) error {
		if _, err := s.DB.Exec(ctx, setRoomRoleQuery, roomID, userID, role); err != nil {
			return err
		}
		_, err := s.DB.Exec(ctx, insertRoomChangeQuery, roomID, actorID, "role", userID+"="+string(role), time.Now().UnixMilli())
		return err
	})
}

// RoomRole returns the role of a room member, or an empty role for
// non-members.
func (s *Store) RoomRole(ctx context.Context, roomID, userID string) (bridge.Role, error) {
	var role bridge.Role
	err := s.DB.QueryRow(ctx, getRoomRoleQuery, roomID, userID).Scan(&role)
	if err != nil && !isNoRows(err) {
		return "", err
	}
	return role, nil
}

// RoomChange is one audited change of a room field.
type RoomChange struct {
	ActorID string
	Value   string
}

// RoomChanges lists the recorded changes of a room field, oldest first.
func (s *Store) RoomChanges(ctx context.Context, roomID, field string) ([]RoomChange, error) {
	rows, err := s.DB.Query(ctx, getRoomChangesQuery, roomID, field)
	return dbutil.NewRowIterWithError(rows, func(row dbutil.Scannable) (change RoomChange, err error) {
		err = row.Scan(&change.ActorID, &change.Value)
		return
	}, err).AsList()
}

func (s *Store) AddRoomMember(ctx context.Context, roomID, userID string) error {
	return s.rooms.Exec(ctx, addRoomMemberQuery, roomID, userID)
}

func (s *Store) RemoveRoomMember(ctx context.Context, roomID, userID string) error {
	return s.rooms.Exec(ctx, removeRoomMemberQuery, roomID, userID)
}

// IsRoomMember reports whether the user is a member of the room.
func (s *Store) IsRoomMember(ctx context.Context, roomID, userID string) (member bool, err error) {
	err = s.DB.QueryRow(ctx, isRoomMemberQuery, roomID, userID).Scan(&member)
	return
}
