package server

import (
	"context"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"

	"github.com/Zibor233/Christmas-Multiplayer-Game/config"
	"github.com/Zibor233/Christmas-Multiplayer-Game/internal/game"
	"github.com/Zibor233/Christmas-Multiplayer-Game/internal/protocol"
)

// stubCache records player upserts and serves a canned chat ring. The rest
// of the cache surface is a no-op.
type stubCache struct {
	mu      sync.Mutex
	players map[string]string
	chat    []protocol.ChatMessage
}

func (c *stubCache) UpsertPlayer(_ context.Context, _, playerID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.players == nil {
		c.players = make(map[string]string)
	}
	c.players[playerID] = name
	return nil
}

func (c *stubCache) RemovePlayer(_ context.Context, _, playerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.players, playerID)
	return nil
}

func (c *stubCache) SetRoomSnapshot(context.Context, string, []byte) error { return nil }
func (c *stubCache) SetTreeState(context.Context, string, []byte) error    { return nil }
func (c *stubCache) TreeState(context.Context, string) ([]byte, error)     { return nil, nil }

func (c *stubCache) PushChatMessage(context.Context, string, protocol.ChatMessage) error {
	return nil
}

func (c *stubCache) ChatHistory(context.Context, string) ([]protocol.ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chat, nil
}

func (c *stubCache) DeleteChatHistory(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chat = nil
	return nil
}

func (c *stubCache) playerName(playerID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, ok := c.players[playerID]
	return name, ok
}

type stubDurable struct{}

func (stubDurable) TreeState(context.Context, string) ([]byte, error)            { return nil, nil }
func (stubDurable) UpsertTreeState(context.Context, string, []byte, int64) error { return nil }
func (stubDurable) InsertChatMessage(context.Context, string, protocol.ChatMessage, string) error {
	return nil
}
func (stubDurable) DeleteChatHistory(context.Context, string) error { return nil }

type recordConn struct {
	mu   sync.Mutex
	sent []protocol.Outbound
}

func (c *recordConn) Send(msg protocol.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordConn) Close() error       { return nil }
func (c *recordConn) RemoteAddr() string { return "198.51.100.5:40000" }

func (c *recordConn) countType(t string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, msg := range c.sent {
		if msg.Type == t {
			n++
		}
	}
	return n
}

func (c *recordConn) lastOfType(t string) (protocol.Outbound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Type == t {
			return c.sent[i], true
		}
	}
	return protocol.Outbound{}, false
}

func newTestSession(cfg *config.Settings, cache *stubCache) (*Session, *recordConn, *game.Manager) {
	rooms := game.NewManager(cfg, cache, stubDurable{}, zap.NewNop())
	conn := &recordConn{}
	return NewSession(cfg, rooms, conn, zap.NewNop()), conn, rooms
}

func TestHandleHello(t *testing.T) {
	ctx := context.Background()

	Convey("The hello handshake", t, func() {
		Convey("A non-hello first message fails the session", func() {
			sess, conn, rooms := newTestSession(config.Default(), &stubCache{})
			defer rooms.CloseAll()

			err := sess.HandleHello(ctx, []byte(`{"type":"input.move","payload":{}}`))
			So(err, ShouldEqual, ErrBadHello)

			msg, ok := conn.lastOfType(protocol.TypeError)
			So(ok, ShouldBeTrue)
			So(msg.Payload.(protocol.ErrorPayload).Code, ShouldEqual, protocol.CodeBadHello)
			So(sess.PlayerID(), ShouldBeEmpty)
		})

		Convey("Unparseable bytes fail the same way", func() {
			sess, conn, rooms := newTestSession(config.Default(), &stubCache{})
			defer rooms.CloseAll()

			So(sess.HandleHello(ctx, []byte("not json")), ShouldEqual, ErrBadHello)
			So(conn.countType(protocol.TypeError), ShouldEqual, 1)
		})

		Convey("A bare hello lands in the default room with a default name", func() {
			cache := &stubCache{}
			sess, conn, rooms := newTestSession(config.Default(), cache)
			defer rooms.CloseAll()

			So(sess.HandleHello(ctx, []byte(`{"type":"hello"}`)), ShouldBeNil)

			msg, ok := conn.lastOfType(protocol.TypeWelcome)
			So(ok, ShouldBeTrue)
			welcome := msg.Payload.(protocol.WelcomePayload)
			So(welcome.PlayerID, ShouldHaveLength, 32)
			So(welcome.RoomID, ShouldEqual, game.DefaultRoomID)
			So(welcome.Phase, ShouldEqual, game.PhasePlay)
			So(sess.PlayerID(), ShouldEqual, welcome.PlayerID)

			name, ok := cache.playerName(welcome.PlayerID)
			So(ok, ShouldBeTrue)
			So(name, ShouldEqual, game.DefaultName)

			// Empty history means no chat.history frame.
			So(conn.countType(protocol.TypeChatHistory), ShouldEqual, 0)
		})

		Convey("Name and room id are sanitized before the join", func() {
			cache := &stubCache{}
			sess, conn, rooms := newTestSession(config.Default(), cache)
			defer rooms.CloseAll()

			hello := []byte(`{"type":"hello","payload":{"name":"  Nick  ","room_id":"bad room!!"}}`)
			So(sess.HandleHello(ctx, hello), ShouldBeNil)

			msg, _ := conn.lastOfType(protocol.TypeWelcome)
			welcome := msg.Payload.(protocol.WelcomePayload)
			So(welcome.RoomID, ShouldEqual, "badroom")

			name, _ := cache.playerName(welcome.PlayerID)
			So(name, ShouldEqual, "Nick")
		})

		Convey("Cached chat history is replayed after the welcome", func() {
			cache := &stubCache{chat: []protocol.ChatMessage{
				{ID: "m1", Text: "hi"},
				{ID: "m2", Text: "there"},
			}}
			sess, conn, rooms := newTestSession(config.Default(), cache)
			defer rooms.CloseAll()

			So(sess.HandleHello(ctx, []byte(`{"type":"hello"}`)), ShouldBeNil)

			msg, ok := conn.lastOfType(protocol.TypeChatHistory)
			So(ok, ShouldBeTrue)
			history := msg.Payload.(protocol.ChatHistoryPayload)
			So(len(history.Messages), ShouldEqual, 2)
			So(history.Messages[0].Text, ShouldEqual, "hi")
		})

		Convey("A full room rejects the hello", func() {
			cfg := config.Default()
			cfg.MaxPlayersPerRoom = 1
			cache := &stubCache{}

			first, _, rooms := newTestSession(cfg, cache)
			defer rooms.CloseAll()
			So(first.HandleHello(ctx, []byte(`{"type":"hello"}`)), ShouldBeNil)

			conn2 := &recordConn{}
			second := NewSession(cfg, rooms, conn2, zap.NewNop())
			err := second.HandleHello(ctx, []byte(`{"type":"hello"}`))
			So(err, ShouldEqual, game.ErrRoomFull)

			msg, ok := conn2.lastOfType(protocol.TypeError)
			So(ok, ShouldBeTrue)
			So(msg.Payload.(protocol.ErrorPayload).Code, ShouldEqual, protocol.CodeRoomFull)
		})
	})
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()

	joinedSession := func(cfg *config.Settings, cache *stubCache) (*Session, *recordConn, *game.Manager) {
		sess, conn, rooms := newTestSession(cfg, cache)
		if err := sess.HandleHello(ctx, []byte(`{"type":"hello"}`)); err != nil {
			t.Fatalf("HandleHello: %v", err)
		}
		return sess, conn, rooms
	}

	Convey("Message dispatch", t, func() {
		Convey("Messages before hello are ignored", func() {
			sess, conn, rooms := newTestSession(config.Default(), &stubCache{})
			defer rooms.CloseAll()

			sess.HandleMessage(ctx, []byte(`{"type":"chat.send","payload":{"text":"hi"}}`))
			So(conn.countType(protocol.TypeChatMessage), ShouldEqual, 0)
		})

		Convey("set_name renames the player", func() {
			cache := &stubCache{}
			sess, _, rooms := joinedSession(config.Default(), cache)
			defer rooms.CloseAll()

			sess.HandleMessage(ctx, []byte(`{"type":"set_name","payload":{"name":"  Holly "}}`))
			name, _ := cache.playerName(sess.PlayerID())
			So(name, ShouldEqual, "Holly")
		})

		Convey("chat.send reaches the room and comes back as a broadcast", func() {
			sess, conn, rooms := joinedSession(config.Default(), &stubCache{})
			defer rooms.CloseAll()

			sess.HandleMessage(ctx, []byte(`{"type":"chat.send","payload":{"text":" season's greetings "}}`))

			msg, ok := conn.lastOfType(protocol.TypeChatMessage)
			So(ok, ShouldBeTrue)
			chat := msg.Payload.(protocol.ChatMessage)
			So(chat.Text, ShouldEqual, "season's greetings")
			So(chat.PlayerID, ShouldEqual, sess.PlayerID())
		})

		Convey("chat.clear with the wrong password gets a notice", func() {
			sess, conn, rooms := joinedSession(config.Default(), &stubCache{})
			defer rooms.CloseAll()

			sess.HandleMessage(ctx, []byte(`{"type":"chat.clear","payload":{"password":"guess"}}`))

			So(conn.countType(protocol.TypeChatCleared), ShouldEqual, 0)
			msg, ok := conn.lastOfType(protocol.TypeNotice)
			So(ok, ShouldBeTrue)
			notice := msg.Payload.(protocol.NoticePayload)
			So(notice.Code, ShouldEqual, protocol.CodeWrongPassword)
			So(notice.Message, ShouldEqual, "管理员密码错误")
		})

		Convey("chat.clear with the admin password clears the room", func() {
			cfg := config.Default()
			sess, conn, rooms := joinedSession(cfg, &stubCache{})
			defer rooms.CloseAll()

			sess.HandleMessage(ctx, []byte(`{"type":"chat.clear","payload":{"password":"`+cfg.AdminPassword+`"}}`))
			So(conn.countType(protocol.TypeChatCleared), ShouldEqual, 1)
		})

		Convey("Unknown types get an advisory notice echoing the type", func() {
			sess, conn, rooms := joinedSession(config.Default(), &stubCache{})
			defer rooms.CloseAll()

			sess.HandleMessage(ctx, []byte(`{"type":"teleport","payload":{}}`))

			msg, ok := conn.lastOfType(protocol.TypeNotice)
			So(ok, ShouldBeTrue)
			notice := msg.Payload.(protocol.NoticePayload)
			So(notice.Code, ShouldEqual, protocol.CodeUnknownType)
			So(notice.Type, ShouldEqual, "teleport")
		})

		Convey("Payloads that fail to decode are dropped silently", func() {
			sess, conn, rooms := joinedSession(config.Default(), &stubCache{})
			defer rooms.CloseAll()

			sess.HandleMessage(ctx, []byte(`{"type":"input.move","payload":{"seq":"first"}}`))
			sess.HandleMessage(ctx, []byte(`{"type":"player.cosmetic","payload":{"hat":"yes"}}`))
			sess.HandleMessage(ctx, []byte(`{"type":"tree.place","payload":{"slot":{"angle":"north"}}}`))

			// No notices, no errors, no placements came back.
			So(conn.countType(protocol.TypeNotice), ShouldEqual, 0)
			So(conn.countType(protocol.TypeError), ShouldEqual, 0)
			So(conn.countType(protocol.TypeTreePlaced), ShouldEqual, 0)
		})
	})
}

func TestTeardown(t *testing.T) {
	ctx := context.Background()

	Convey("Teardown removes the player once joined", t, func() {
		cache := &stubCache{}
		sess, _, rooms := newTestSession(config.Default(), cache)
		defer rooms.CloseAll()

		So(sess.HandleHello(ctx, []byte(`{"type":"hello"}`)), ShouldBeNil)
		playerID := sess.PlayerID()

		sess.Teardown(ctx)
		_, still := cache.playerName(playerID)
		So(still, ShouldBeFalse)
		So(rooms.Get(game.DefaultRoomID).PlayerCount(), ShouldEqual, 0)
	})

	Convey("Teardown before hello is a no-op", t, func() {
		sess, _, rooms := newTestSession(config.Default(), &stubCache{})
		defer rooms.CloseAll()
		sess.Teardown(ctx)
	})
}
