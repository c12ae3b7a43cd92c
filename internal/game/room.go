package game

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Zibor233/Christmas-Multiplayer-Game/config"
	"github.com/Zibor233/Christmas-Multiplayer-Game/internal/protocol"
)

var (
	// ErrRoomFull is returned by AddPlayer at capacity.
	ErrRoomFull = errors.New("room_full")
	// ErrRoomClosed is returned by AddPlayer after Close.
	ErrRoomClosed = errors.New("room_closed")
)

// PlayerConn binds a connected client to its runtime record. It lives only
// in memory and only inside its room's player map.
type PlayerConn struct {
	Conn    ClientConn
	Runtime *PlayerRuntime

	lastSentSnapshotMs int64
	rate               tokenBucket
}

// Room is an isolated world: its players, its tree, its chat and its tick
// loop.
//
// Thread safety: one mutex guards all mutable room state. Every mutating
// operation and every read that needs multi-field consistency (snapshot
// assembly, broadcast target enumeration) holds it. The mutex is never held
// across store I/O or socket writes, except that snapshot assembly itself
// reads all players and decorations under the lock to get a consistent
// payload; the cache write and the fan-out happen after release.
type Room struct {
	ID string

	cfg     *config.Settings
	cache   Cache
	durable Durable
	log     *zap.Logger

	mu           sync.Mutex
	phase        string
	createdMs    int64
	players      map[string]*PlayerConn
	decorations  map[string]*Decoration
	emptySinceMs int64

	running atomic.Bool
	closed  atomic.Bool
	stopCh  chan struct{}

	// nowMs is swappable so tests can drive the clock.
	nowMs func() int64
}

// NewRoom creates a room. The room is inert until Start.
func NewRoom(roomID string, cfg *config.Settings, cache Cache, durable Durable, log *zap.Logger) *Room {
	now := time.Now().UnixMilli()
	return &Room{
		ID:           roomID,
		cfg:          cfg,
		cache:        cache,
		durable:      durable,
		log:          log.With(zap.String("room", roomID)),
		phase:        PhasePlay,
		createdMs:    now,
		players:      make(map[string]*PlayerConn),
		decorations:  make(map[string]*Decoration),
		emptySinceMs: now,
		stopCh:       make(chan struct{}),
		nowMs:        func() int64 { return time.Now().UnixMilli() },
	}
}

// Start hydrates tree state and launches the tick loop. Safe to call
// multiple times; only the first call does anything.
func (r *Room) Start(ctx context.Context) {
	if r.closed.Load() {
		return
	}
	if r.running.Swap(true) {
		return
	}

	r.hydrateState(ctx)
	go r.runTicks()
	r.log.Info("room started")
}

// Close stops the tick loop, drains the player map and closes every
// socket. Safe to call multiple times.
func (r *Room) Close() {
	if r.closed.Swap(true) {
		return
	}
	if r.running.Load() {
		close(r.stopCh)
	}

	r.mu.Lock()
	conns := make([]*PlayerConn, 0, len(r.players))
	for _, pc := range r.players {
		conns = append(conns, pc)
	}
	r.players = make(map[string]*PlayerConn)
	r.mu.Unlock()

	for _, pc := range conns {
		_ = pc.Conn.Close()
	}
	r.log.Info("room closed")
}

// Phase returns the room phase, always "PLAY" in this version.
func (r *Room) Phase() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// PlayerCount returns the current number of players.
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// IdleFor reports how long the room has been empty, or 0 while occupied.
func (r *Room) IdleFor(nowMs int64) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.players) > 0 {
		return 0
	}
	return time.Duration(nowMs-r.emptySinceMs) * time.Millisecond
}

// hydrateState loads decorations from the cache, falling back to the
// durable store. Malformed entries are dropped; angle and height are
// clamped back into placement bounds so the invariants hold regardless of
// how old the stored blob is.
func (r *Room) hydrateState(ctx context.Context) {
	raw, err := r.cache.TreeState(ctx, r.ID)
	if err != nil {
		r.storeWarn("cache tree state", err)
		raw = nil
	}
	if raw == nil {
		raw, err = r.durable.TreeState(ctx, r.ID)
		if err != nil {
			r.storeWarn("durable tree state", err)
			return
		}
	}
	if raw == nil {
		return
	}

	var state struct {
		Decorations []json.RawMessage `json:"decorations"`
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		r.log.Warn("tree state unreadable", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range state.Decorations {
		var d protocol.Decoration
		if err := json.Unmarshal(entry, &d); err != nil {
			continue
		}
		if d.ID == "" || !ValidDecorationType(d.Type) {
			continue
		}
		r.decorations[d.ID] = &Decoration{
			ID:       d.ID,
			Type:     d.Type,
			Angle:    wrapAngle(d.Angle),
			Height:   Clamp(d.Height, MinDecorationHeight, MaxDecorationHeight),
			PlacedBy: d.PlacedBy,
			PlacedMs: d.PlacedMs,
		}
	}
	if n := len(r.decorations); n > 0 {
		r.log.Info("hydrated tree state", zap.Int("decorations", n))
	}
}

// AddPlayer registers a connection and seats the player near the tree.
// Returns the minted player id.
func (r *Room) AddPlayer(ctx context.Context, conn ClientConn, name, ip string) (string, error) {
	if r.closed.Load() {
		return "", ErrRoomClosed
	}
	now := r.nowMs()

	r.mu.Lock()
	if len(r.players) >= r.cfg.MaxPlayersPerRoom {
		r.mu.Unlock()
		return "", ErrRoomFull
	}
	playerID := NewID()
	runtime := &PlayerRuntime{PlayerID: playerID, Name: name, IP: ip}
	// Seats fan out along the x axis in join order.
	runtime.Kin.X = Clamp(float64(len(r.players)-2)*1.2, r.cfg.WorldMinX, r.cfg.WorldMaxX)
	runtime.Kin.Z = Clamp(8.0, r.cfg.WorldMinZ, r.cfg.WorldMaxZ)
	r.players[playerID] = &PlayerConn{
		Conn:    conn,
		Runtime: runtime,
		rate:    newTokenBucket(now, float64(r.cfg.InputRateLimitHz)),
	}
	r.mu.Unlock()

	if err := r.cache.UpsertPlayer(ctx, r.ID, playerID, name); err != nil {
		r.storeWarn("cache upsert player", err)
	}
	r.log.Info("player joined", zap.String("player", playerID), zap.String("name", name))
	return playerID, nil
}

// RemovePlayer drops a player from the room. Unknown ids are ignored.
func (r *Room) RemovePlayer(ctx context.Context, playerID string) {
	r.mu.Lock()
	_, existed := r.players[playerID]
	delete(r.players, playerID)
	if existed && len(r.players) == 0 {
		r.emptySinceMs = r.nowMs()
	}
	r.mu.Unlock()

	if err := r.cache.RemovePlayer(ctx, r.ID, playerID); err != nil {
		r.storeWarn("cache remove player", err)
	}
	if existed {
		r.log.Info("player left", zap.String("player", playerID))
	}
}

// SetName renames a player. The name is sanitized again here so the room
// stays safe no matter which caller reaches it.
func (r *Room) SetName(ctx context.Context, playerID, name string) {
	name = SanitizeName(name)

	r.mu.Lock()
	pc, ok := r.players[playerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	pc.Runtime.Name = name
	r.mu.Unlock()

	if err := r.cache.UpsertPlayer(ctx, r.ID, playerID, name); err != nil {
		r.storeWarn("cache upsert player", err)
	}
}

// SetCosmetic updates a player's cosmetic state. Unknown players are
// ignored.
func (r *Room) SetCosmetic(playerID string, hat bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pc, ok := r.players[playerID]
	if !ok {
		return
	}
	pc.Runtime.Cosmetic.Hat = hat
}

// SubmitMoveInput records a movement intent. Denied or stale inputs leave
// all kinematic state untouched; an accepted input only updates the desired
// axis, which the next tick integrates.
func (r *Room) SubmitMoveInput(playerID string, in protocol.MoveInputPayload) {
	now := r.nowMs()

	r.mu.Lock()
	defer r.mu.Unlock()
	pc, ok := r.players[playerID]
	if !ok {
		return
	}
	if !pc.rate.allow(now, float64(r.cfg.InputRateLimitHz)) {
		pc.Runtime.Cheat.RateLimited = true
		return
	}
	if in.Seq <= pc.Runtime.LastInputSeq {
		return
	}
	pc.Runtime.LastInputSeq = in.Seq
	pc.Runtime.LastInputClientTimeMs = in.ClientTimeMs
	pc.Runtime.LastAxisX, pc.Runtime.LastAxisZ = NormalizeAxis(in.Ax, in.Az)
}

// PlaceDecoration hangs an ornament on the tree if the player stands within
// interaction range and the tree has capacity. A successful placement is
// broadcast and then persisted to both stores.
func (r *Room) PlaceDecoration(ctx context.Context, playerID string, in protocol.PlacePayload) {
	if !ValidDecorationType(in.Type) {
		return
	}
	angle, height := 0.0, 0.5
	if in.Slot != nil {
		if in.Slot.Angle != nil {
			angle = *in.Slot.Angle
		}
		if in.Slot.Height != nil {
			height = *in.Slot.Height
		}
	}
	angle = wrapAngle(angle)
	height = Clamp(height, MinDecorationHeight, MaxDecorationHeight)
	now := r.nowMs()

	r.mu.Lock()
	pc, ok := r.players[playerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	dx := pc.Runtime.Kin.X - r.cfg.TreeCenterX
	dz := pc.Runtime.Kin.Z - r.cfg.TreeCenterZ
	if math.Sqrt(dx*dx+dz*dz) > r.cfg.TreeInteractRadius {
		r.mu.Unlock()
		return
	}
	if len(r.decorations) >= r.cfg.TreeMaxDecorations {
		r.mu.Unlock()
		return
	}
	deco := &Decoration{
		ID:       NewID(),
		Type:     in.Type,
		Angle:    angle,
		Height:   height,
		PlacedBy: pc.Runtime.PlayerID,
		PlacedMs: now,
	}
	r.decorations[deco.ID] = deco
	pc.Runtime.PlacedCount++
	r.mu.Unlock()

	r.broadcast(ctx, protocol.Outbound{Type: protocol.TypeTreePlaced, Payload: wireDecoration(deco)})
	r.persistTreeState(ctx)
}

// SendChat validates, caches, broadcasts and durably logs one chat message.
// Whitespace-only text is dropped; text is truncated to 120 characters.
func (r *Room) SendChat(ctx context.Context, playerID, text string) {
	text = sanitizeChatText(text)
	if text == "" {
		return
	}
	now := r.nowMs()

	r.mu.Lock()
	pc, ok := r.players[playerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	msg := protocol.ChatMessage{
		ID:           NewID(),
		RoomID:       r.ID,
		PlayerID:     pc.Runtime.PlayerID,
		Name:         pc.Runtime.Name,
		Text:         text,
		ServerTimeMs: now,
	}
	playerIP := pc.Runtime.IP
	r.mu.Unlock()

	if err := r.cache.PushChatMessage(ctx, r.ID, msg); err != nil {
		r.storeWarn("cache push chat", err)
	}
	r.broadcast(ctx, protocol.Outbound{Type: protocol.TypeChatMessage, Payload: msg})
	if err := r.durable.InsertChatMessage(ctx, r.ID, msg, playerIP); err != nil {
		r.storeWarn("durable insert chat", err)
	}
}

// ClearChat wipes the chat ring and the durable log for this room.
// Authorization happens at the connection boundary; the room trusts its
// caller.
func (r *Room) ClearChat(ctx context.Context) {
	if err := r.cache.DeleteChatHistory(ctx, r.ID); err != nil {
		r.storeWarn("cache delete chat", err)
	}
	if err := r.durable.DeleteChatHistory(ctx, r.ID); err != nil {
		r.storeWarn("durable delete chat", err)
	}
	r.broadcast(ctx, protocol.Outbound{Type: protocol.TypeChatCleared, Payload: protocol.EmptyPayload{}})
}

// ChatHistory returns the cached chat ring, oldest first.
func (r *Room) ChatHistory(ctx context.Context) []protocol.ChatMessage {
	msgs, err := r.cache.ChatHistory(ctx, r.ID)
	if err != nil {
		r.storeWarn("cache chat history", err)
		return nil
	}
	return msgs
}

// runTicks drives the simulation at the configured tick rate until Close.
func (r *Room) runTicks() {
	tickHz := r.cfg.ServerTickHz
	if tickHz < 1 {
		tickHz = 1
	}
	snapshotHz := r.cfg.SnapshotHz
	if snapshotHz < 1 {
		snapshotHz = 1
	}
	dt := 1.0 / float64(tickHz)
	snapshotIntervalMs := int64(1000 / snapshotHz)
	constraints := MoveConstraints{
		MaxSpeed: r.cfg.PlayerMaxSpeed,
		MaxAccel: r.cfg.PlayerMaxAccel,
		MinX:     r.cfg.WorldMinX,
		MaxX:     r.cfg.WorldMaxX,
		MinZ:     r.cfg.WorldMinZ,
		MaxZ:     r.cfg.WorldMaxZ,
	}

	ticker := time.NewTicker(time.Second / time.Duration(tickHz))
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.tick(context.Background(), constraints, dt, snapshotIntervalMs)
		}
	}
}

// tick integrates kinematics for every player and, at the snapshot cadence,
// assembles and dispatches a state snapshot. A panic in one tick is logged
// and the loop continues.
func (r *Room) tick(ctx context.Context, constraints MoveConstraints, dt float64, snapshotIntervalMs int64) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("tick failed", zap.Any("panic", rec))
		}
	}()

	now := r.nowMs()

	r.mu.Lock()
	for _, pc := range r.players {
		r.integrateLocked(pc.Runtime, constraints, dt)
	}

	due := false
	for _, pc := range r.players {
		if now-pc.lastSentSnapshotMs >= snapshotIntervalMs {
			due = true
			break
		}
	}
	if !due {
		r.mu.Unlock()
		return
	}

	payload := r.snapshotLocked(now)
	for _, pc := range r.players {
		if now-pc.lastSentSnapshotMs < snapshotIntervalMs {
			continue
		}
		// Advance by one interval rather than snapping to now, so the
		// effective snapshot rate tracks the configured cadence even when
		// tick boundaries straddle it. Snap forward when far behind.
		if now-pc.lastSentSnapshotMs >= 2*snapshotIntervalMs {
			pc.lastSentSnapshotMs = now
		} else {
			pc.lastSentSnapshotMs += snapshotIntervalMs
		}
	}
	r.mu.Unlock()

	if raw, err := json.Marshal(payload); err == nil {
		if err := r.cache.SetRoomSnapshot(ctx, r.ID, raw); err != nil {
			r.storeWarn("cache snapshot", err)
		}
	}
	r.broadcast(ctx, protocol.Outbound{Type: protocol.TypeSnapshot, Payload: payload})
}

// integrateLocked advances one player by dt: accelerate toward the desired
// axis, integrate position, then enforce constraints. Caller holds r.mu.
func (r *Room) integrateLocked(rt *PlayerRuntime, c MoveConstraints, dt float64) {
	targetVx := rt.LastAxisX * c.MaxSpeed
	targetVz := rt.LastAxisZ * c.MaxSpeed
	maxDv := c.MaxAccel * dt
	rt.Kin.Vx += Clamp(targetVx-rt.Kin.Vx, -maxDv, maxDv)
	rt.Kin.Vz += Clamp(targetVz-rt.Kin.Vz, -maxDv, maxDv)
	rt.Kin.X += rt.Kin.Vx * dt
	rt.Kin.Z += rt.Kin.Vz * dt

	x, z, vx, vz, flags := ApplyMoveConstraints(rt.Kin.X, rt.Kin.Z, rt.Kin.Vx, rt.Kin.Vz, c)
	rt.Kin.X, rt.Kin.Z, rt.Kin.Vx, rt.Kin.Vz = x, z, vx, vz
	if flags.Any() {
		rt.Cheat.Merge(flags)
	}
}

// snapshotLocked assembles the full-room snapshot payload. Caller holds
// r.mu.
func (r *Room) snapshotLocked(nowMs int64) protocol.SnapshotPayload {
	players := make([]protocol.PlayerSnapshot, 0, len(r.players))
	ack := make(map[string]int64, len(r.players))
	for _, pc := range r.players {
		rt := pc.Runtime
		players = append(players, protocol.PlayerSnapshot{
			ID:          rt.PlayerID,
			Name:        rt.Name,
			X:           rt.Kin.X,
			Y:           rt.Kin.Y,
			Z:           rt.Kin.Z,
			Vx:          rt.Kin.Vx,
			Vz:          rt.Kin.Vz,
			Yaw:         rt.Kin.Yaw,
			Cosmetic:    protocol.CosmeticState{Hat: rt.Cosmetic.Hat},
			PlacedCount: rt.PlacedCount,
		})
		ack[rt.PlayerID] = rt.LastInputSeq
	}
	return protocol.SnapshotPayload{
		ServerTimeMs: nowMs,
		RoomID:       r.ID,
		Phase:        r.phase,
		Players:      players,
		Ack:          ack,
		Tree:         r.treeStateLocked(""),
	}
}

// treeStateLocked copies the decoration set into wire form. Caller holds
// r.mu.
func (r *Room) treeStateLocked(roomID string) protocol.TreeState {
	decos := make([]protocol.Decoration, 0, len(r.decorations))
	for _, d := range r.decorations {
		decos = append(decos, wireDecoration(d))
	}
	return protocol.TreeState{RoomID: roomID, Decorations: decos}
}

// persistTreeState writes the tree blob to the cache and the durable store.
func (r *Room) persistTreeState(ctx context.Context) {
	r.mu.Lock()
	state := r.treeStateLocked(r.ID)
	r.mu.Unlock()

	raw, err := json.Marshal(state)
	if err != nil {
		r.log.Error("tree state marshal", zap.Error(err))
		return
	}
	if err := r.cache.SetTreeState(ctx, r.ID, raw); err != nil {
		r.storeWarn("cache set tree", err)
	}
	if err := r.durable.UpsertTreeState(ctx, r.ID, raw, r.nowMs()); err != nil {
		r.storeWarn("durable upsert tree", err)
	}
}

// broadcast sends a message to every connection. The connection list is
// snapshotted under the lock; sends happen outside it so a slow client
// cannot backpressure the simulation. Connections whose send fails are
// removed.
func (r *Room) broadcast(ctx context.Context, msg protocol.Outbound) {
	r.mu.Lock()
	conns := make([]*PlayerConn, 0, len(r.players))
	for _, pc := range r.players {
		conns = append(conns, pc)
	}
	r.mu.Unlock()

	var dead []string
	for _, pc := range conns {
		if err := pc.Conn.Send(msg); err != nil {
			dead = append(dead, pc.Runtime.PlayerID)
		}
	}
	for _, playerID := range dead {
		r.RemovePlayer(ctx, playerID)
	}
}

func (r *Room) storeWarn(op string, err error) {
	r.log.Warn("store operation failed", zap.String("op", op), zap.Error(err))
}

// wrapAngle maps any angle into [0, 2π).
func wrapAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

// sanitizeChatText trims and bounds chat text to 120 characters.
func sanitizeChatText(text string) string {
	text = strings.TrimSpace(text)
	if runes := []rune(text); len(runes) > 120 {
		return string(runes[:120])
	}
	return text
}

func wireDecoration(d *Decoration) protocol.Decoration {
	return protocol.Decoration{
		ID:       d.ID,
		Type:     d.Type,
		Angle:    d.Angle,
		Height:   d.Height,
		PlacedBy: d.PlacedBy,
		PlacedMs: d.PlacedMs,
	}
}
