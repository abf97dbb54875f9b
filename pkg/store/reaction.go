// Copyright 2024-2026 Aiku AI

package store

import (
	"context"

	"go.mau.fi/util/dbutil"

	"github.com/aiku/federation-bridge/pkg/bridge"
)

const (
	getReactionEdgeQuery = `
		SELECT message_id, reaction, username, event_id FROM fed_reaction_edge
		WHERE message_id=$1 AND reaction=$2 AND username=$3
	`
	setReactionEdgeQuery = `
		INSERT INTO fed_reaction_edge (message_id, reaction, username, event_id) VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, reaction, username) DO UPDATE SET event_id=excluded.event_id
	`
	clearReactionEdgeQuery = `
		DELETE FROM fed_reaction_edge WHERE message_id=$1 AND reaction=$2 AND username=$3
	`
)

type edgeRow struct {
	bridge.ReactionEdge
}

func (e *edgeRow) Scan(row dbutil.Scannable) (*edgeRow, error) {
	return dbutil.ValueOrErr(e, row.Scan(&e.MessageID, &e.Reaction, &e.Username, &e.EventID))
}

func (s *Store) GetReactionEdge(ctx context.Context, messageID, reaction, username string) (*bridge.ReactionEdge, error) {
	row, err := s.edges.QueryOne(ctx, getReactionEdgeQuery, messageID, reaction, username)
	if row == nil || err != nil {
		return nil, err
	}
	return &row.ReactionEdge, nil
}

func (s *Store) SetReactionEdge(ctx context.Context, edge *bridge.ReactionEdge) error {
	return s.edges.Exec(ctx, setReactionEdgeQuery, edge.MessageID, edge.Reaction, edge.Username, edge.EventID)
}

func (s *Store) ClearReactionEdge(ctx context.Context, messageID, reaction, username string) error {
	return s.edges.Exec(ctx, clearReactionEdgeQuery, messageID, reaction, username)
}
