// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/id"
)

// EnsureShadowUsersExist provisions a shadow user for every valid remote
// identifier in identifiers. Invalid identifiers and identifiers on the home
// domain are skipped.
func (b *Bridge) EnsureShadowUsersExist(ctx context.Context, identifiers []string) error {
	server := b.serverName()
	for _, ident := range identifiers {
		if !ValidateRemoteIdentifier(ident) {
			continue
		}
		mxid := id.UserID(ident)
		if mxid.Homeserver() == server {
			continue
		}
		if _, err := b.ensureShadowUser(ctx, mxid, ""); err != nil {
			return err
		}
	}
	return nil
}

// ensureShadowUser returns the shadow user standing in for mxid, creating it
// if needed. Concurrent calls for the same identifier converge on one record.
func (b *Bridge) ensureShadowUser(ctx context.Context, mxid id.UserID, displayName string) (*User, error) {
	existing, err := b.store.GetUserByUsername(ctx, string(mxid))
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrProvisioningFailed, mxid, err)
	}
	if existing.IsShadow() {
		return existing, nil
	}

	origin, err := ExtractDomain(mxid)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrProvisioningFailed, mxid, err)
	}
	if displayName == "" {
		displayName = string(mxid)
	}
	user, err := b.store.UpsertShadowUser(ctx, &User{
		Username:    string(mxid),
		DisplayName: displayName,
		Kind:        ShadowActor,
		RemoteID:    mxid,
		Origin:      origin,
		Status:      StatusOffline,
	})
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrProvisioningFailed, mxid, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w %s: no record after upsert", ErrProvisioningFailed, mxid)
	}
	b.log.Debug().Stringer("user_id", mxid).Str("local_id", user.ID).Msg("Provisioned shadow user")
	return user, nil
}

// userForSender resolves the local user behind a federation sender.
func (b *Bridge) userForSender(ctx context.Context, sender id.UserID) (*User, error) {
	username, _, err := LocalUsername(sender, b.serverName())
	if err != nil {
		return nil, err
	}
	return b.store.GetUserByUsername(ctx, username)
}
