package session

import (
	"testing"

	"codesync/internal/protocol"
)

type frameCapture struct {
	frames []protocol.Message
}

func newFrameCapture() *frameCapture { return &frameCapture{} }

func (c *frameCapture) hook(msg protocol.Message) { c.frames = append(c.frames, msg) }

func (c *frameCapture) list() []protocol.Message {
	out := make([]protocol.Message, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *frameCapture) ofKind(kind protocol.Kind) []protocol.Message {
	var out []protocol.Message
	for _, f := range c.frames {
		if f.Kind() == kind {
			out = append(out, f)
		}
	}
	return out
}

func (c *frameCapture) lastUserList(t *testing.T) *protocol.UserListUpdate {
	t.Helper()
	lists := c.ofKind(protocol.KindUserListUpdate)
	if len(lists) == 0 {
		t.Fatal("no USER_LIST_UPDATE received")
	}
	return lists[len(lists)-1].(*protocol.UserListUpdate)
}

func attach(s *Session, identity string) (*Client, *frameCapture) {
	c := NewClient(nil, identity)
	cap := newFrameCapture()
	c.SetSendHook(cap.hook)
	s.Attach(c)
	return c, cap
}

func TestAttachSendsInitialStateThenRoster(t *testing.T) {
	s := NewSession("s1")
	_, cap := attach(s, "alice")

	frames := cap.list()
	if len(frames) != 2 {
		t.Fatalf("expected init + roster, got %#v", frames)
	}
	init, ok := frames[0].(*protocol.InitialCodeState)
	if !ok {
		t.Fatalf("expected INITIAL_CODE_STATE first, got %T", frames[0])
	}
	if init.Content != "" || init.Language != DefaultLanguage || init.Sender != protocol.SenderServer {
		t.Fatalf("unexpected initial state: %#v", init)
	}
	roster, ok := frames[1].(*protocol.UserListUpdate)
	if !ok {
		t.Fatalf("expected USER_LIST_UPDATE second, got %T", frames[1])
	}
	if len(roster.Users) != 1 || roster.Users[0] != "alice" {
		t.Fatalf("unexpected roster: %#v", roster)
	}
	if roster.Priorities["alice"] != 1 {
		t.Fatalf("expected first-join priority 1, got %#v", roster.Priorities)
	}
}

func TestAttachSendsSnapshotOfCurrentDocument(t *testing.T) {
	s := NewSession("s1")
	alice, _ := attach(s, "alice")
	s.Handle(alice, &protocol.CodeChange{Content: "x = 1", Language: "python", Sender: "alice", SessionID: "s1"})

	_, cap := attach(s, "bob")
	init := cap.list()[0].(*protocol.InitialCodeState)
	if init.Content != "x = 1" || init.Language != "python" {
		t.Fatalf("late joiner got stale snapshot: %#v", init)
	}
}

func TestRosterTracksOpenConnections(t *testing.T) {
	s := NewSession("s1")
	alice, aliceCap := attach(s, "alice")
	bob, bobCap := attach(s, "bob")

	got := bobCap.lastUserList(t)
	if len(got.Users) != 2 || got.Users[0] != "alice" || got.Users[1] != "bob" {
		t.Fatalf("unexpected roster: %#v", got.Users)
	}

	if left := s.Detach(alice); left != 1 {
		t.Fatalf("expected 1 connection left, got %d", left)
	}
	got = bobCap.lastUserList(t)
	if len(got.Users) != 1 || got.Users[0] != "bob" {
		t.Fatalf("expected only bob after alice left, got %#v", got.Users)
	}
	if _, ok := got.Priorities["alice"]; ok {
		t.Fatalf("stale priority entry for alice: %#v", got.Priorities)
	}

	// Idempotent detach: a second call must not disturb anything.
	before := len(aliceCap.list())
	if left := s.Detach(alice); left != 1 {
		t.Fatalf("expected idempotent detach, got %d", left)
	}
	if len(aliceCap.list()) != before {
		t.Fatal("idempotent detach sent frames")
	}

	if left := s.Detach(bob); left != 0 {
		t.Fatalf("expected empty session, got %d", left)
	}
}

func TestDuplicateConnectionsKeepRosterEntry(t *testing.T) {
	s := NewSession("s1")
	tab1, _ := attach(s, "alice")
	tab2, _ := attach(s, "alice")
	_, bobCap := attach(s, "bob")

	s.Detach(tab1)
	got := bobCap.lastUserList(t)
	if len(got.Users) != 2 {
		t.Fatalf("alice still has a tab open, roster should keep her: %#v", got.Users)
	}

	s.Detach(tab2)
	got = bobCap.lastUserList(t)
	if len(got.Users) != 1 || got.Users[0] != "bob" {
		t.Fatalf("expected alice gone after last tab closed: %#v", got.Users)
	}
}

func TestCodeChangeIsLastWriterWinsAndNotEchoed(t *testing.T) {
	s := NewSession("s1")
	alice, aliceCap := attach(s, "alice")
	bob, bobCap := attach(s, "bob")

	m1 := &protocol.CodeChange{Content: "print(1)", Language: "python", Sender: "alice", SessionID: "s1", Priority: 9}
	s.Handle(alice, m1)

	if got := aliceCap.ofKind(protocol.KindCodeChange); len(got) != 0 {
		t.Fatalf("sender must not receive its own code change: %#v", got)
	}
	got := bobCap.ofKind(protocol.KindCodeChange)
	if len(got) != 1 {
		t.Fatalf("bob expected exactly one code change, got %#v", got)
	}
	if cc := got[0].(*protocol.CodeChange); cc.Content != "print(1)" || cc.Language != "python" {
		t.Fatalf("broadcast altered the message: %#v", cc)
	}

	// Priority never drives ordering: a later write with a lower
	// priority still fully replaces the document.
	s.Handle(bob, &protocol.CodeChange{Content: "print(2)", Language: "python", Sender: "bob", SessionID: "s1", Priority: 1})
	content, language := s.Snapshot()
	if content != "print(2)" || language != "python" {
		t.Fatalf("expected last writer to win, got %q/%q", content, language)
	}
}

func TestLanguageChangeReplacesLanguageOnly(t *testing.T) {
	s := NewSession("s1")
	alice, _ := attach(s, "alice")
	_, bobCap := attach(s, "bob")

	s.Handle(alice, &protocol.CodeChange{Content: "select 1", Sender: "alice", SessionID: "s1"})
	s.Handle(alice, &protocol.LanguageChange{Language: "sql", Sender: "alice", SessionID: "s1"})

	content, language := s.Snapshot()
	if content != "select 1" || language != "sql" {
		t.Fatalf("expected content untouched and language replaced, got %q/%q", content, language)
	}
	if got := bobCap.ofKind(protocol.KindLanguageChange); len(got) != 1 {
		t.Fatalf("bob expected one language change, got %#v", got)
	}

	// Empty language selector is ignored outright.
	s.Handle(alice, &protocol.LanguageChange{Sender: "alice", SessionID: "s1"})
	if _, language = s.Snapshot(); language != "sql" {
		t.Fatalf("empty language must not clobber state, got %q", language)
	}
}

func TestChatIsEchoedToSenderAndAppended(t *testing.T) {
	s := NewSession("s1")
	alice, aliceCap := attach(s, "alice")
	_, bobCap := attach(s, "bob")

	msg := &protocol.ChatMessage{Content: "hey", Sender: "alice", SessionID: "s1", Timestamp: "10:00:00", ClientMessageID: "m1"}
	s.Handle(alice, msg)

	if got := aliceCap.ofKind(protocol.KindChatMessage); len(got) != 1 {
		t.Fatalf("chat must be echoed to the sender, got %#v", got)
	}
	if got := bobCap.ofKind(protocol.KindChatMessage); len(got) != 1 {
		t.Fatalf("chat must reach other clients, got %#v", got)
	}

	s.Handle(alice, &protocol.ChatMessage{Content: "again", Sender: "alice", SessionID: "s1", ClientMessageID: "m2"})
	history := s.ChatHistory()
	if len(history) != 2 || history[0].ClientMessageID != "m1" || history[1].ClientMessageID != "m2" {
		t.Fatalf("chat history not append-only in arrival order: %#v", history)
	}
}

func TestHubOriginatedKindsFromClientsAreIgnored(t *testing.T) {
	s := NewSession("s1")
	alice, _ := attach(s, "alice")
	_, bobCap := attach(s, "bob")
	before := len(bobCap.list())

	s.Handle(alice, &protocol.InitialCodeState{Content: "injected"})
	s.Handle(alice, &protocol.UserListUpdate{Users: []string{"mallory"}})

	if content, _ := s.Snapshot(); content != "" {
		t.Fatalf("client-sent INITIAL_CODE_STATE mutated the document: %q", content)
	}
	if len(bobCap.list()) != before {
		t.Fatalf("ignored kinds must not be broadcast: %#v", bobCap.list()[before:])
	}
}

func TestClientSendQueueOverflowCloses(t *testing.T) {
	c := NewClient(nil, "slow")
	for i := 0; i < sendQueueSize; i++ {
		c.Send(&protocol.LanguageChange{Language: "python"})
	}
	if c.Closed() {
		t.Fatal("client closed before queue was full")
	}
	c.Send(&protocol.LanguageChange{Language: "python"})
	if !c.Closed() {
		t.Fatal("expected overflow to close the client")
	}
}

func TestClientCloseIdempotent(t *testing.T) {
	c := NewClient(nil, "x")
	c.Close()
	c.Close()
	if !c.Closed() {
		t.Fatal("expected closed client")
	}
}

func TestSlowClientDoesNotBlockBroadcast(t *testing.T) {
	s := NewSession("s1")
	alice, _ := attach(s, "alice")

	// bob has no hook and no writer pump, so his queue fills up.
	bob := NewClient(nil, "bob")
	s.Attach(bob)
	_, carolCap := attach(s, "carol")

	for i := 0; i < sendQueueSize+8; i++ {
		s.Handle(alice, &protocol.CodeChange{Content: "x", Sender: "alice", SessionID: "s1"})
	}
	if !bob.Closed() {
		t.Fatal("expected stalled client to be disconnected")
	}
	if got := carolCap.ofKind(protocol.KindCodeChange); len(got) != sendQueueSize+8 {
		t.Fatalf("healthy client missed frames: got %d", len(got))
	}
}

func TestHubLifecycle(t *testing.T) {
	hub := NewHub()
	a := hub.GetOrCreate("a")
	if b := hub.GetOrCreate("a"); a != b {
		t.Fatal("expected same session instance")
	}
	if _, ok := hub.Get("missing"); ok {
		t.Fatal("expected missing session")
	}

	alice, _ := attach(a, "alice")
	a.Handle(alice, &protocol.CodeChange{Content: "code", Sender: "alice", SessionID: "a"})
	if doc, ok := hub.GetDoc("a"); !ok || doc != "code" {
		t.Fatalf("expected stored doc, got %q ok=%v", doc, ok)
	}
	if _, ok := hub.GetDoc("missing"); ok {
		t.Fatal("expected missing doc")
	}

	if hub.Delete("a") {
		t.Fatal("expected delete to refuse an occupied session")
	}
	a.Detach(alice)
	if !hub.Delete("a") {
		t.Fatal("expected delete of drained session")
	}
	if hub.Delete("a") {
		t.Fatal("expected second delete to be a no-op")
	}
	if _, ok := hub.Get("a"); ok {
		t.Fatal("expected session to be deleted")
	}
}

func TestAttachDuringTeardownKeepsSessionAlive(t *testing.T) {
	hub := NewHub()

	bob := NewClient(nil, "bob")
	bob.SetSendHook(newFrameCapture().hook)
	sess := hub.Attach("s1", bob)

	// The last member drains the session, but another connection
	// resolves the same id before the teardown's delete lands.
	if left := sess.Detach(bob); left != 0 {
		t.Fatalf("expected drained session, got %d connections", left)
	}
	carol := NewClient(nil, "carol")
	carolCap := newFrameCapture()
	carol.SetSendHook(carolCap.hook)
	if got := hub.Attach("s1", carol); got != sess {
		t.Fatal("expected the live session instance, not a fresh one")
	}

	if hub.Delete("s1") {
		t.Fatal("stale delete must not drop a session with a live connection")
	}

	// A later join on the same id lands on the same instance and the
	// two connections see each other.
	dave := NewClient(nil, "dave")
	dave.SetSendHook(newFrameCapture().hook)
	if got := hub.Attach("s1", dave); got != sess {
		t.Fatal("expected the same session instance")
	}
	sess.Handle(dave, &protocol.CodeChange{Content: "x = 1", Sender: "dave", SessionID: "s1"})
	if got := carolCap.ofKind(protocol.KindCodeChange); len(got) != 1 {
		t.Fatalf("peer missed the broadcast: got %d frames", len(got))
	}
	roster := carolCap.lastUserList(t)
	if len(roster.Users) != 2 || roster.Users[0] != "carol" || roster.Users[1] != "dave" {
		t.Fatalf("unexpected roster: %#v", roster.Users)
	}
}
