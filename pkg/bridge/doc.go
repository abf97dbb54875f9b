// Copyright 2024-2026 Aiku AI

// Package bridge connects a local chat server to a Matrix federation.
//
// The bridge has two directions. The outbound adapter subscribes to local
// domain events on a [localbus.Bus] via [Bridge.RegisterLocalHandlers] and
// turns room, message, reaction, membership and presence changes into
// [Transport] calls. The inbound adapter, [Bridge.HandleFederationEvent],
// receives federation events from an [EventSource] and applies them to the
// local [Store], publishing the matching local events afterwards.
//
// # Core Types
//
// [Bridge] holds the collaborators and the runtime [Settings]. Its settings
// can be changed while running through [Bridge.ApplySetting], the
// settings.changed local event or the admin API.
//
// Remote users are represented locally by shadow users. Their username is
// the full federation identifier, so they never collide with local names.
//
// # Echo Prevention
//
// Every event crossing the bridge in one direction is published on the
// other side too, so both adapters must recognize their own echoes:
//
//   - Inbound messages whose event ID is already mapped are dropped.
//   - Messages saved by the inbound adapter carry their event ID, which
//     makes the outbound adapter skip them.
//   - Edits, deletions, kicks, renames, topic and role changes by shadow
//     users are not sent back.
//   - Presence of users whose name contains a server part is not sent.
//
// # Sub-packages
//
//   - localfmt converts local markdown to federation HTML with mention pills.
//   - remotefmt converts federation HTML to local markdown.
package bridge
