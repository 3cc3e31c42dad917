// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package notes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	testRoom  = id.RoomID("!room:example.com")
	testRoom2 = id.RoomID("!other:example.com")
	alice     = id.UserID("@alice:example.com")
	bob       = id.UserID("@bob:example.com")
	carol     = id.UserID("@carol:example.com")
	admin     = id.UserID("@admin:example.com")
)

var errInjected = errors.New("injected failure")

// memStore is an in-memory Store with failure injection.
type memStore struct {
	mu      sync.Mutex
	records map[id.RoomID]*Record

	// fail makes the named operation return an ErrStorage-wrapped error.
	fail map[string]bool
	// panicOn makes the named operation panic.
	panicOn map[string]bool
	calls   map[string]int
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		records: make(map[id.RoomID]*Record),
		fail:    make(map[string]bool),
		panicOn: make(map[string]bool),
		calls:   make(map[string]int),
	}
}

func (m *memStore) enter(op string) error {
	m.calls[op]++
	if m.panicOn[op] {
		panic("memStore: " + op)
	}
	if m.fail[op] {
		return fmt.Errorf("%w: %s: %w", ErrStorage, op, errInjected)
	}
	return nil
}

func (m *memStore) setFail(op string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = fail
}

func (m *memStore) setPanic(op string, p bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicOn[op] = p
}

func (m *memStore) callCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *memStore) get(roomID id.RoomID) *Record {
	rec, ok := m.records[roomID]
	if !ok {
		rec = newRecord(roomID)
		m.records[roomID] = rec
	}
	return rec
}

func copyRecord(rec *Record) *Record {
	cp := newRecord(rec.RoomID)
	for name, body := range rec.Macros {
		cp.Macros[name] = body
	}
	for userID := range rec.AllowedUsers {
		cp.AllowedUsers[userID] = struct{}{}
	}
	return cp
}

func (m *memStore) GetRecord(_ context.Context, roomID id.RoomID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetRecord"); err != nil {
		return nil, err
	}
	rec, ok := m.records[roomID]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

func (m *memStore) EnsureRoom(_ context.Context, roomID id.RoomID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("EnsureRoom"); err != nil {
		return false, err
	}
	if _, ok := m.records[roomID]; ok {
		return false, nil
	}
	m.get(roomID)
	return true, nil
}

func (m *memStore) PutMacro(_ context.Context, roomID id.RoomID, name, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PutMacro"); err != nil {
		return err
	}
	m.get(roomID).Macros[name] = body
	return nil
}

func (m *memStore) DeleteMacro(_ context.Context, roomID id.RoomID, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteMacro"); err != nil {
		return false, err
	}
	rec, ok := m.records[roomID]
	if !ok {
		return false, nil
	}
	_, existed := rec.Macros[name]
	delete(rec.Macros, name)
	return existed, nil
}

func (m *memStore) PutAllowedUser(_ context.Context, roomID id.RoomID, userID id.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PutAllowedUser"); err != nil {
		return false, err
	}
	rec := m.get(roomID)
	_, existed := rec.AllowedUsers[userID]
	rec.AllowedUsers[userID] = struct{}{}
	return !existed, nil
}

func (m *memStore) DeleteAllowedUser(_ context.Context, roomID id.RoomID, userID id.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteAllowedUser"); err != nil {
		return false, err
	}
	rec, ok := m.records[roomID]
	if !ok {
		return false, nil
	}
	_, existed := rec.AllowedUsers[userID]
	delete(rec.AllowedUsers, userID)
	return existed, nil
}

func (m *memStore) AllRecords(_ context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AllRecords"); err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, copyRecord(rec))
	}
	return out, nil
}

// sentReply is one reply captured by recordingGateway.
type sentReply struct {
	RoomID  id.RoomID
	EventID id.EventID
	Text    string
}

// recordingGateway captures replies for test assertions.
type recordingGateway struct {
	mu      sync.Mutex
	replies []sentReply
	joined  []id.RoomID

	replyErr  error
	joinedErr error
}

var _ Gateway = (*recordingGateway)(nil)

func (g *recordingGateway) Reply(_ context.Context, msg *Message, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.replyErr != nil {
		return g.replyErr
	}
	g.replies = append(g.replies, sentReply{RoomID: msg.RoomID, EventID: msg.EventID, Text: text})
	return nil
}

func (g *recordingGateway) JoinedRooms(_ context.Context) ([]id.RoomID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.joinedErr != nil {
		return nil, g.joinedErr
	}
	return append([]id.RoomID(nil), g.joined...), nil
}

func (g *recordingGateway) Replies() []sentReply {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := make([]sentReply, len(g.replies))
	copy(cp, g.replies)
	return cp
}

func (g *recordingGateway) Texts() []string {
	replies := g.Replies()
	texts := make([]string, len(replies))
	for i, r := range replies {
		texts[i] = r.Text
	}
	return texts
}

func (g *recordingGateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = nil
}

// testEnv bundles a started dispatcher with its fakes.
type testEnv struct {
	store   *memStore
	gateway *recordingGateway
	d       *Dispatcher
}

func newTestEnv(t *testing.T, help HelpSource) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   newMemStore(),
		gateway: &recordingGateway{},
	}
	env.d = NewDispatcher(DispatcherParams{
		Store:   env.store,
		Gateway: env.gateway,
		Help:    help,
		Admins:  []id.UserID{admin},
		Timeout: 5 * time.Second,
		Log:     zerolog.Nop(),
	})
	if err := env.d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return env
}

// allow puts a user on a room's allowlist directly and refreshes.
func (env *testEnv) allow(t *testing.T, roomID id.RoomID, userID id.UserID) {
	t.Helper()
	if _, err := env.store.PutAllowedUser(context.Background(), roomID, userID); err != nil {
		t.Fatalf("PutAllowedUser: %v", err)
	}
	if _, err := env.d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
}

// send dispatches a plain text message and returns the replies it produced.
func (env *testEnv) send(roomID id.RoomID, sender id.UserID, body string) []string {
	return env.sendContent(roomID, sender, &event.MessageEventContent{MsgType: event.MsgText, Body: body})
}

func (env *testEnv) sendContent(roomID id.RoomID, sender id.UserID, content *event.MessageEventContent) []string {
	before := len(env.gateway.Replies())
	env.d.Handle(context.Background(), &Message{
		RoomID:  roomID,
		Sender:  sender,
		EventID: id.EventID(fmt.Sprintf("$evt%d", time.Now().UnixNano())),
		Content: content,
	})
	return env.gateway.Texts()[before:]
}

// mention builds a command that names userID with a pill link, the way
// Matrix clients send it.
func mention(command string, userID id.UserID) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          command + " User",
		Format:        event.FormatHTML,
		FormattedBody: fmt.Sprintf(`%s <a href="https://matrix.to/#/%s">User</a>`, command, userID),
		Mentions:      &event.Mentions{UserIDs: []id.UserID{userID}},
	}
}
