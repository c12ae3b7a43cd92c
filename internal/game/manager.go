package game

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Zibor233/Christmas-Multiplayer-Game/config"
)

// Manager is the process-wide room registry. Rooms are created lazily on
// first join; exactly one live Room object exists per id.
type Manager struct {
	cfg     *config.Settings
	cache   Cache
	durable Durable
	log     *zap.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// Stats is a point-in-time view of the registry for the stats endpoint.
type Stats struct {
	Rooms   int `json:"rooms"`
	Players int `json:"players"`
}

// NewManager creates an empty registry.
func NewManager(cfg *config.Settings, cache Cache, durable Durable, log *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		cache:   cache,
		durable: durable,
		log:     log,
		rooms:   make(map[string]*Room),
	}
}

// GetOrCreate returns the room for roomID, creating it on first use.
// Start is called outside the registry lock; it is idempotent.
func (m *Manager) GetOrCreate(ctx context.Context, roomID string) *Room {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		room = NewRoom(roomID, m.cfg, m.cache, m.durable, m.log)
		m.rooms[roomID] = room
	}
	m.mu.Unlock()

	room.Start(ctx)
	return room
}

// Get returns the room for roomID, or nil.
func (m *Manager) Get(roomID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[roomID]
}

// ReapIdle closes and drops rooms that have sat empty for at least maxIdle.
// Returns the number of rooms removed.
func (m *Manager) ReapIdle(maxIdle time.Duration) int {
	now := time.Now().UnixMilli()

	m.mu.Lock()
	var victims []*Room
	for id, room := range m.rooms {
		if idle := room.IdleFor(now); idle >= maxIdle && idle > 0 {
			victims = append(victims, room)
			delete(m.rooms, id)
		}
	}
	m.mu.Unlock()

	for _, room := range victims {
		room.Close()
	}
	if len(victims) > 0 {
		m.log.Info("reaped idle rooms", zap.Int("count", len(victims)))
	}
	return len(victims)
}

// GetStats counts live rooms and players.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.Unlock()

	stats := Stats{Rooms: len(rooms)}
	for _, room := range rooms {
		stats.Players += room.PlayerCount()
	}
	return stats
}

// CloseAll closes every room, for process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	for _, room := range rooms {
		room.Close()
	}
}
