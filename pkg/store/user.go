// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/federation-bridge/pkg/bridge"
)

const (
	getUserBaseQuery = `
		SELECT id, username, display_name, kind, remote_id, origin, status FROM fed_user
	`
	getUserByIDQuery       = getUserBaseQuery + `WHERE id=$1`
	getUserByUsernameQuery = getUserBaseQuery + `WHERE username=$1`
	insertUserQuery        = `
		INSERT INTO fed_user (id, username, display_name, kind, remote_id, origin, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	upsertShadowUserQuery = insertUserQuery + `
		ON CONFLICT (username) DO UPDATE SET display_name=excluded.display_name
	`
	setUserStatusQuery      = `UPDATE fed_user SET status=$2 WHERE id=$1`
	getUserBridgedRoomQuery = `
		SELECT fed_room.external_room_id
		FROM fed_room_member
		INNER JOIN fed_room ON fed_room.id=fed_room_member.room_id
		WHERE fed_room_member.user_id=$1 AND fed_room.external_room_id IS NOT NULL
		ORDER BY fed_room.external_room_id
	`
)

type userRow struct {
	bridge.User
}

func (u *userRow) Scan(row dbutil.Scannable) (*userRow, error) {
	var remoteID, origin *string
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Kind, &remoteID, &origin, &u.Status)
	if err != nil {
		return nil, err
	}
	u.RemoteID = id.UserID(derefString(remoteID))
	u.Origin = derefString(origin)
	return u, nil
}

func userOrNil(row *userRow, err error) (*bridge.User, error) {
	if row == nil || err != nil {
		return nil, err
	}
	return &row.User, nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*bridge.User, error) {
	return userOrNil(s.users.QueryOne(ctx, getUserByIDQuery, userID))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*bridge.User, error) {
	return userOrNil(s.users.QueryOne(ctx, getUserByUsernameQuery, username))
}

// putUser inserts a user and assigns its ID if it has none.
func (s *Store) putUser(ctx context.Context, user *bridge.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Status == "" {
		user.Status = bridge.StatusOffline
	}
	err := s.users.Exec(ctx, insertUserQuery,
		user.ID, user.Username, user.DisplayName, user.Kind,
		nullString(user.RemoteID), nullString(user.Origin), user.Status)
	if err != nil {
		return fmt.Errorf("failed to insert user %s: %w", user.Username, err)
	}
	return nil
}

func (s *Store) UpsertShadowUser(ctx context.Context, user *bridge.User) (*bridge.User, error) {
	status := user.Status
	if status == "" {
		status = bridge.StatusOffline
	}
	err := s.users.Exec(ctx, upsertShadowUserQuery,
		uuid.NewString(), user.Username, user.DisplayName, bridge.ShadowActor,
		nullString(user.RemoteID), nullString(user.Origin), status)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert shadow user %s: %w", user.Username, err)
	}
	return s.GetUserByUsername(ctx, user.Username)
}

func (s *Store) SetUserStatus(ctx context.Context, userID string, status bridge.UserStatus) error {
	return s.users.Exec(ctx, setUserStatusQuery, userID, status)
}

func (s *Store) GetUserBridgedRoomIDs(ctx context.Context, userID string) ([]id.RoomID, error) {
	rows, err := s.DB.Query(ctx, getUserBridgedRoomQuery, userID)
	return dbutil.NewRowIterWithError(rows, dbutil.ScanSingleColumn[id.RoomID], err).AsList()
}
