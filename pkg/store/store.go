// Copyright 2024-2026 Aiku AI

// Package store persists users, rooms, messages and reaction edges of the
// federation bridge in a dbutil-managed SQL database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.mau.fi/util/dbutil"

	"github.com/aiku/federation-bridge/pkg/bridge"
	"github.com/aiku/federation-bridge/pkg/store/upgrades"
)

// Store implements bridge.Store on top of SQLite or Postgres.
type Store struct {
	DB *dbutil.Database

	users    *dbutil.QueryHelper[*userRow]
	rooms    *dbutil.QueryHelper[*roomRow]
	messages *dbutil.QueryHelper[*messageRow]
	edges    *dbutil.QueryHelper[*edgeRow]
}

var _ bridge.Store = (*Store)(nil)

// New wraps db and attaches the bridge schema to it.
func New(db *dbutil.Database) *Store {
	db.UpgradeTable = upgrades.Table
	return &Store{
		DB: db,
		users: dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*userRow]) *userRow {
			return &userRow{}
		}),
		rooms: dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*roomRow]) *roomRow {
			return &roomRow{}
		}),
		messages: dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*messageRow]) *messageRow {
			return &messageRow{}
		}),
		edges: dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*edgeRow]) *edgeRow {
			return &edgeRow{}
		}),
	}
}

// Upgrade brings the schema to the latest revision.
func (s *Store) Upgrade(ctx context.Context) error {
	if err := s.DB.Upgrade(ctx); err != nil {
		return fmt.Errorf("failed to upgrade database: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func nullString[T ~string](val T) *string {
	return dbutil.StrPtr(val)
}

func derefString(val *string) string {
	if val == nil {
		return ""
	}
	return *val
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
