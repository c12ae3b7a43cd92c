package game

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"

	"github.com/Zibor233/Christmas-Multiplayer-Game/config"
)

func newTestManager(cfg *config.Settings) *Manager {
	return NewManager(cfg, &fakeCache{}, &fakeDurable{}, zap.NewNop())
}

func TestManagerGetOrCreate(t *testing.T) {
	ctx := context.Background()

	Convey("The registry hands out one room per id", t, func() {
		m := newTestManager(config.Default())
		defer m.CloseAll()

		a := m.GetOrCreate(ctx, "public")
		b := m.GetOrCreate(ctx, "public")
		c := m.GetOrCreate(ctx, "lobby-2")

		So(a, ShouldEqual, b)
		So(a, ShouldNotEqual, c)
		So(a.ID, ShouldEqual, "public")
		So(c.ID, ShouldEqual, "lobby-2")

		So(m.Get("public"), ShouldEqual, a)
		So(m.Get("missing"), ShouldBeNil)
	})
}

func TestManagerReapIdle(t *testing.T) {
	ctx := context.Background()

	Convey("Idle reaping", t, func() {
		Convey("Empty rooms past the idle window are closed and dropped", func() {
			m := newTestManager(config.Default())
			defer m.CloseAll()

			idle := m.GetOrCreate(ctx, "ghost-town")
			occupied := m.GetOrCreate(ctx, "public")
			if _, err := occupied.AddPlayer(ctx, &fakeConn{}, "alice", "203.0.113.7"); err != nil {
				t.Fatalf("AddPlayer: %v", err)
			}

			time.Sleep(5 * time.Millisecond)
			reaped := m.ReapIdle(time.Millisecond)

			So(reaped, ShouldEqual, 1)
			So(m.Get("ghost-town"), ShouldBeNil)
			So(m.Get("public"), ShouldEqual, occupied)
			So(idle.closed.Load(), ShouldBeTrue)
		})

		Convey("Occupied rooms never count as idle", func() {
			m := newTestManager(config.Default())
			defer m.CloseAll()

			room := m.GetOrCreate(ctx, "public")
			if _, err := room.AddPlayer(ctx, &fakeConn{}, "alice", "203.0.113.7"); err != nil {
				t.Fatalf("AddPlayer: %v", err)
			}

			time.Sleep(5 * time.Millisecond)
			So(m.ReapIdle(time.Millisecond), ShouldEqual, 0)
			So(m.Get("public"), ShouldNotBeNil)
		})
	})
}

func TestManagerStats(t *testing.T) {
	ctx := context.Background()

	Convey("Stats count rooms and players across the registry", t, func() {
		m := newTestManager(config.Default())
		defer m.CloseAll()

		a := m.GetOrCreate(ctx, "public")
		b := m.GetOrCreate(ctx, "lobby-2")
		for i := 0; i < 2; i++ {
			if _, err := a.AddPlayer(ctx, &fakeConn{}, "p", "203.0.113.7"); err != nil {
				t.Fatalf("AddPlayer: %v", err)
			}
		}
		if _, err := b.AddPlayer(ctx, &fakeConn{}, "q", "203.0.113.8"); err != nil {
			t.Fatalf("AddPlayer: %v", err)
		}

		stats := m.GetStats()
		So(stats.Rooms, ShouldEqual, 2)
		So(stats.Players, ShouldEqual, 3)
	})
}

func TestManagerCloseAll(t *testing.T) {
	ctx := context.Background()

	Convey("CloseAll closes every room and empties the registry", t, func() {
		m := newTestManager(config.Default())

		room := m.GetOrCreate(ctx, "public")
		conn := &fakeConn{}
		if _, err := room.AddPlayer(ctx, conn, "alice", "203.0.113.7"); err != nil {
			t.Fatalf("AddPlayer: %v", err)
		}

		m.CloseAll()

		So(m.Get("public"), ShouldBeNil)
		So(room.closed.Load(), ShouldBeTrue)
		conn.mu.Lock()
		closed := conn.closed
		conn.mu.Unlock()
		So(closed, ShouldBeTrue)
	})
}
