package game

import (
	"context"

	"github.com/Zibor233/Christmas-Multiplayer-Game/internal/protocol"
)

// Cache is the optional hot store for per-room state. Implementations must
// treat a missing backend as a no-op: every method returns a benign value
// so the simulation never stalls on cache loss.
type Cache interface {
	UpsertPlayer(ctx context.Context, roomID, playerID, name string) error
	RemovePlayer(ctx context.Context, roomID, playerID string) error

	SetRoomSnapshot(ctx context.Context, roomID string, payload []byte) error

	SetTreeState(ctx context.Context, roomID string, state []byte) error
	TreeState(ctx context.Context, roomID string) ([]byte, error)

	PushChatMessage(ctx context.Context, roomID string, msg protocol.ChatMessage) error
	ChatHistory(ctx context.Context, roomID string) ([]protocol.ChatMessage, error)
	DeleteChatHistory(ctx context.Context, roomID string) error
}

// Durable is the optional relational store: tree state upserted by room and
// an append-only chat log deletable by room. Same optionality contract as
// Cache.
type Durable interface {
	TreeState(ctx context.Context, roomID string) ([]byte, error)
	UpsertTreeState(ctx context.Context, roomID string, state []byte, updatedMs int64) error

	InsertChatMessage(ctx context.Context, roomID string, msg protocol.ChatMessage, playerIP string) error
	DeleteChatHistory(ctx context.Context, roomID string) error
}

// ClientConn abstracts the network connection a room broadcasts to.
// Send must not block on a slow peer; a returned error marks the
// connection dead and schedules the player's removal.
type ClientConn interface {
	Send(msg protocol.Outbound) error
	Close() error
	RemoteAddr() string
}
