// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix/id"
)

// VerifyIdentifiers classifies each federation identifier independently.
// Identifiers on the home domain are checked against local users, others
// with a profile query to their homeserver.
func (b *Bridge) VerifyIdentifiers(ctx context.Context, identifiers []string) map[string]VerificationResult {
	results := make([]VerificationResult, len(identifiers))
	var g errgroup.Group
	g.SetLimit(b.verifyConcurrency)
	for i, ident := range identifiers {
		g.Go(func() error {
			results[i] = b.verifyIdentifier(ctx, ident)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]VerificationResult, len(identifiers))
	for i, ident := range identifiers {
		out[ident] = results[i]
	}
	return out
}

func (b *Bridge) verifyIdentifier(ctx context.Context, ident string) VerificationResult {
	// Split on the first separator only so a port stays in the server part.
	sep := strings.IndexByte(ident, ':')
	if sep < 1 {
		return UnableToVerify
	}
	localpart, server := ident[:sep], ident[sep+1:]
	if server == "" {
		return UnableToVerify
	}

	if server == b.serverName() {
		user, err := b.store.GetUserByUsername(ctx, strings.TrimPrefix(localpart, "@"))
		switch {
		case err != nil:
			return UnableToVerify
		case user == nil:
			return Unverified
		default:
			return Verified
		}
	}

	if b.transport == nil {
		return UnableToVerify
	}
	err := b.call("query profile", func() error {
		return b.transport.QueryProfile(ctx, id.UserID(ident))
	})
	switch {
	case errors.Is(err, ErrProfileNotFound):
		return Unverified
	case err != nil:
		b.log.Debug().Err(err).Str("identifier", ident).Msg("Profile query failed")
		return UnableToVerify
	default:
		return Verified
	}
}
