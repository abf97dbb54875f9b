// Copyright 2024-2026 Aiku AI

package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const testServer = "home.example"

// fakeStore is an in-memory Store. Records are shared by pointer, so tests
// can inspect what the bridge changed.
type fakeStore struct {
	mu sync.Mutex

	users    map[string]*User
	rooms    map[string]*Room
	messages map[string]*Message
	msgOrder []string
	edges    map[string]*ReactionEdge
	members  map[string]map[string]bool
	roles    []string
	nextID   int

	// Err is returned by every lookup when set.
	Err error
	// RoomErr is returned by GetRoomByID when set.
	RoomErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*User),
		rooms:    make(map[string]*Room),
		messages: make(map[string]*Message),
		edges:    make(map[string]*ReactionEdge),
		members:  make(map[string]map[string]bool),
	}
}

func (s *fakeStore) newID(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s%d", prefix, s.nextID)
}

func (s *fakeStore) addLocalUser(username string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &User{ID: s.newID("u"), Username: username, Kind: LocalActor, Status: StatusOnline}
	s.users[u.ID] = u
	return u
}

func (s *fakeStore) addShadowUser(mxid id.UserID) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &User{ID: s.newID("u"), Username: string(mxid), Kind: ShadowActor, RemoteID: mxid, Origin: mxid.Homeserver(), Status: StatusOffline}
	s.users[u.ID] = u
	return u
}

func (s *fakeStore) addRoom(roomType RoomType, externalID id.RoomID) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Room{ID: s.newID("r"), Type: roomType, Name: "general"}
	if externalID != "" {
		r.Federation = &RoomFederation{ExternalRoomID: externalID, Origin: testServer}
	}
	s.rooms[r.ID] = r
	return r
}

func (s *fakeStore) addMessage(msg *Message) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = s.newID("m")
	}
	s.messages[msg.ID] = msg
	s.msgOrder = append(s.msgOrder, msg.ID)
	return msg
}

func (s *fakeStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *fakeStore) isMember(roomID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[roomID][userID]
}

func (s *fakeStore) GetUserByID(_ context.Context, userID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID], s.Err
}

func (s *fakeStore) GetUserByUsername(_ context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UpsertShadowUser(_ context.Context, user *User) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username {
			u.DisplayName = user.DisplayName
			return u, nil
		}
	}
	cp := *user
	cp.ID = s.newID("u")
	s.users[cp.ID] = &cp
	return &cp, nil
}

func (s *fakeStore) SetUserStatus(_ context.Context, userID string, status UserStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.users[userID]; u != nil {
		u.Status = status
	}
	return nil
}

func (s *fakeStore) GetUserBridgedRoomIDs(_ context.Context, userID string) ([]id.RoomID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []id.RoomID
	for roomID, members := range s.members {
		if r := s.rooms[roomID]; members[userID] && r.IsBridged() {
			out = append(out, r.ExternalID())
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *fakeStore) GetRoomByID(_ context.Context, roomID string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RoomErr != nil {
		return nil, s.RoomErr
	}
	return s.rooms[roomID], s.Err
}

func (s *fakeStore) GetRoomByExternalID(_ context.Context, externalID id.RoomID) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.ExternalID() == externalID {
			return r, s.Err
		}
	}
	return nil, s.Err
}

func (s *fakeStore) SetRoomFederation(_ context.Context, roomID string, fed RoomFederation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[roomID]
	if r == nil {
		return fmt.Errorf("room %s not found", roomID)
	}
	r.Federated = true
	r.Federation = &fed
	return nil
}

func (s *fakeStore) SaveRoomName(_ context.Context, roomID, _, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID].Name = name
	return nil
}

func (s *fakeStore) SaveRoomTopic(_ context.Context, roomID, _, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID].Topic = topic
	return nil
}

func (s *fakeStore) SaveRoomRole(_ context.Context, roomID, actorID, userID string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = append(s.roles, fmt.Sprintf("%s:%s:%s:%s", roomID, actorID, userID, role))
	return nil
}

func (s *fakeStore) AddRoomMember(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[roomID] == nil {
		s.members[roomID] = make(map[string]bool)
	}
	s.members[roomID][userID] = true
	return nil
}

func (s *fakeStore) RemoveRoomMember(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[roomID], userID)
	return nil
}

func (s *fakeStore) GetMessageByID(_ context.Context, messageID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[messageID], s.Err
}

func (s *fakeStore) GetMessageByExternalID(_ context.Context, eventID id.EventID) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ExternalEventID() == eventID {
			return m, s.Err
		}
	}
	return nil, s.Err
}

func (s *fakeStore) GetLatestThreadMessage(_ context.Context, threadID, excludeID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgOrder) - 1; i >= 0; i-- {
		m := s.messages[s.msgOrder[i]]
		if m.ThreadID == threadID && m.ID != excludeID && m.ExternalEventID() != "" {
			return m, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) SetMessageEventID(_ context.Context, messageID string, eventID id.EventID, state BridgeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.messages[messageID]
	if m == nil {
		return fmt.Errorf("message %s not found", messageID)
	}
	m.Federation = MessageFederation{EventID: eventID, State: state}
	return nil
}

func (s *fakeStore) SaveMessage(_ context.Context, msg *Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evt := msg.ExternalEventID(); evt != "" {
		for _, m := range s.messages {
			if m.ExternalEventID() == evt {
				msg.ID = m.ID
				return false, nil
			}
		}
	}
	msg.ID = s.newID("m")
	s.messages[msg.ID] = msg
	s.msgOrder = append(s.msgOrder, msg.ID)
	return true, nil
}

func (s *fakeStore) UpdateMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg
	return nil
}

func (s *fakeStore) DeleteMessage(_ context.Context, messageID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.messages[messageID]; m != nil {
		m.Deleted = true
	}
	return nil
}

func edgeKey(messageID, reaction, username string) string {
	return messageID + "\x00" + reaction + "\x00" + username
}

func (s *fakeStore) GetReactionEdge(_ context.Context, messageID, reaction, username string) (*ReactionEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edges[edgeKey(messageID, reaction, username)], nil
}

func (s *fakeStore) SetReactionEdge(_ context.Context, edge *ReactionEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[edgeKey(edge.MessageID, edge.Reaction, edge.Username)] = edge
	return nil
}

func (s *fakeStore) ClearReactionEdge(_ context.Context, messageID, reaction, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edges, edgeKey(messageID, reaction, username))
	return nil
}

// transportCall records one request made to fakeTransport.
type transportCall struct {
	Op      string
	Room    id.RoomID
	Sender  id.UserID
	Target  string
	Content *event.MessageEventContent
}

// fakeTransport records every call and answers with sequential IDs.
type fakeTransport struct {
	mu    sync.Mutex
	calls []transportCall
	seq   int

	// Errs maps an operation name to the error it fails with.
	Errs map[string]error
	// EmptyEventIDs makes send operations return an empty event ID.
	EmptyEventIDs bool
	// Events are returned by GetEvent.
	Events map[id.EventID]*event.Event
	// Profiles maps users to their QueryProfile result.
	Profiles map[id.UserID]error
	// InviteErrs maps invitees to the error InviteUser fails with.
	InviteErrs map[id.UserID]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		Errs:       make(map[string]error),
		Events:     make(map[id.EventID]*event.Event),
		Profiles:   make(map[id.UserID]error),
		InviteErrs: make(map[id.UserID]error),
	}
}

func (t *fakeTransport) record(call transportCall) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, call)
	t.seq++
	return t.Errs[call.Op]
}

func (t *fakeTransport) eventID() id.EventID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.EmptyEventIDs {
		return ""
	}
	return id.EventID(fmt.Sprintf("$evt%d", t.seq))
}

func (t *fakeTransport) Calls() []transportCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.calls)
}

func (t *fakeTransport) CallsTo(op string) []transportCall {
	var out []transportCall
	for _, c := range t.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (t *fakeTransport) CreateRoom(_ context.Context, creator id.UserID, name string, visibility RoomVisibility) (id.RoomID, error) {
	if err := t.record(transportCall{Op: "CreateRoom", Sender: creator, Target: name + "|" + string(visibility)}); err != nil {
		return "", err
	}
	return id.RoomID(fmt.Sprintf("!room%d:%s", t.seq, testServer)), nil
}

func (t *fakeTransport) CreateDirectRoom(_ context.Context, creator, peer id.UserID) (id.RoomID, error) {
	if err := t.record(transportCall{Op: "CreateDirectRoom", Sender: creator, Target: string(peer)}); err != nil {
		return "", err
	}
	return id.RoomID(fmt.Sprintf("!dm%d:%s", t.seq, testServer)), nil
}

func (t *fakeTransport) InviteUser(ctx context.Context, roomID id.RoomID, inviter, invitee id.UserID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.record(transportCall{Op: "InviteUser", Room: roomID, Sender: inviter, Target: string(invitee)}); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.InviteErrs[invitee]
}

func (t *fakeTransport) AcceptInvite(ctx context.Context, roomID id.RoomID, userID id.UserID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.record(transportCall{Op: "AcceptInvite", Room: roomID, Sender: userID})
}

func (t *fakeTransport) LeaveRoom(_ context.Context, roomID id.RoomID, userID id.UserID) error {
	return t.record(transportCall{Op: "LeaveRoom", Room: roomID, Sender: userID})
}

func (t *fakeTransport) KickUser(_ context.Context, roomID id.RoomID, kicker, kicked id.UserID, reason string) error {
	return t.record(transportCall{Op: "KickUser", Room: roomID, Sender: kicker, Target: string(kicked) + "|" + reason})
}

func (t *fakeTransport) SetRoomName(_ context.Context, roomID id.RoomID, sender id.UserID, name string) error {
	return t.record(transportCall{Op: "SetRoomName", Room: roomID, Sender: sender, Target: name})
}

func (t *fakeTransport) SetRoomTopic(_ context.Context, roomID id.RoomID, sender id.UserID, topic string) error {
	return t.record(transportCall{Op: "SetRoomTopic", Room: roomID, Sender: sender, Target: topic})
}

func (t *fakeTransport) SetPowerLevel(_ context.Context, roomID id.RoomID, sender, target id.UserID, level int) error {
	return t.record(transportCall{Op: "SetPowerLevel", Room: roomID, Sender: sender, Target: fmt.Sprintf("%s|%d", target, level)})
}

func (t *fakeTransport) SendMessage(_ context.Context, roomID id.RoomID, sender id.UserID, content *event.MessageEventContent) (id.EventID, error) {
	if err := t.record(transportCall{Op: "SendMessage", Room: roomID, Sender: sender, Content: content}); err != nil {
		return "", err
	}
	return t.eventID(), nil
}

func (t *fakeTransport) SendReaction(_ context.Context, roomID id.RoomID, sender id.UserID, target id.EventID, key string) (id.EventID, error) {
	if err := t.record(transportCall{Op: "SendReaction", Room: roomID, Sender: sender, Target: string(target) + "|" + key}); err != nil {
		return "", err
	}
	return t.eventID(), nil
}

func (t *fakeTransport) Redact(_ context.Context, roomID id.RoomID, sender id.UserID, target id.EventID) (id.EventID, error) {
	if err := t.record(transportCall{Op: "Redact", Room: roomID, Sender: sender, Target: string(target)}); err != nil {
		return "", err
	}
	return t.eventID(), nil
}

func (t *fakeTransport) GetEvent(_ context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error) {
	if err := t.record(transportCall{Op: "GetEvent", Room: roomID, Target: string(eventID)}); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	evt, ok := t.Events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s not found", eventID)
	}
	return evt, nil
}

func (t *fakeTransport) SendTyping(_ context.Context, roomID id.RoomID, userID id.UserID, typing bool) error {
	return t.record(transportCall{Op: "SendTyping", Room: roomID, Sender: userID, Target: fmt.Sprint(typing)})
}

func (t *fakeTransport) SendPresence(_ context.Context, userID id.UserID, presence event.Presence, roomIDs []id.RoomID) error {
	return t.record(transportCall{Op: "SendPresence", Sender: userID, Target: fmt.Sprintf("%s|%d", presence, len(roomIDs))})
}

func (t *fakeTransport) QueryProfile(_ context.Context, userID id.UserID) error {
	if err := t.record(transportCall{Op: "QueryProfile", Sender: userID}); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Profiles[userID]
}

func (t *fakeTransport) UploadMedia(_ context.Context, sender id.UserID, _ []byte, _, fileName string) (id.ContentURIString, error) {
	if err := t.record(transportCall{Op: "UploadMedia", Sender: sender, Target: fileName}); err != nil {
		return "", err
	}
	return id.ContentURIString("mxc://" + testServer + "/" + fileName), nil
}

func (t *fakeTransport) DownloadMedia(_ context.Context, uri id.ContentURIString) (io.ReadCloser, error) {
	if err := t.record(transportCall{Op: "DownloadMedia", Target: string(uri)}); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader([]byte("data"))), nil
}

// fakeMedia hands out predictable URIs and file IDs.
type fakeMedia struct {
	mu         sync.Mutex
	uploaded   []File
	downloaded []RemoteFile
	removed    []string
}

func (m *fakeMedia) PrepareLocalFile(_ context.Context, file File, _ id.UserID) (id.ContentURIString, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploaded = append(m.uploaded, file)
	return id.ContentURIString("mxc://" + testServer + "/" + file.ID), nil
}

func (m *fakeMedia) DownloadRemoteFile(_ context.Context, _ id.ContentURIString, meta RemoteFile) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloaded = append(m.downloaded, meta)
	return fmt.Sprintf("file%d", len(m.downloaded)), nil
}

func (m *fakeMedia) RemoveLocalFile(_ context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, fileID)
	return nil
}

func (m *fakeMedia) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.removed)
}

// published is one event captured by recordingBus.
type published struct {
	Name    string
	Payload any
}

type recordingBus struct {
	mu     sync.Mutex
	events []published
}

func (r *recordingBus) Publish(_ context.Context, name string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{Name: name, Payload: payload})
	return nil
}

func (r *recordingBus) Named(name string) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// testEnv bundles a bridge with its fakes.
type testEnv struct {
	bridge    *Bridge
	store     *fakeStore
	transport *fakeTransport
	media     *fakeMedia
	bus       *recordingBus
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:     newFakeStore(),
		transport: newFakeTransport(),
		media:     &fakeMedia{},
		bus:       &recordingBus{},
	}
	env.bridge = New(Options{
		Log:         zerolog.Nop(),
		Store:       env.store,
		Transport:   env.transport,
		Media:       env.media,
		Broadcaster: env.bus,
		Settings: &Settings{
			ServerName:      testServer,
			ProcessTyping:   true,
			ProcessPresence: true,
			SiteURL:         "https://chat.home.example",
		},
	})
	return env
}

// newUnconfiguredEnv returns an environment whose bridge has no transport.
func newUnconfiguredEnv() *testEnv {
	env := newTestEnv()
	env.bridge.transport = nil
	return env
}
