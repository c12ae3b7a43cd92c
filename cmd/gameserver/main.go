// Package main implements the Christmas tree multiplayer server.
//
// Architecture overview:
// - Clients connect over WebSocket and speak a JSON {type, payload} protocol
// - Each room runs its own simulation loop at SERVER_TICK_HZ
// - Snapshots are coalesced and broadcast at SNAPSHOT_HZ
// - Redis (optional) caches hot room state; MySQL (optional) persists
//   tree state and the chat log
//
// Connection flow:
// 1. Client connects via WebSocket to WS_PATH
// 2. First message must be a hello with optional name and room_id
// 3. Server joins the player to the room (creating it if needed)
// 4. Server replies with welcome and, if present, chat history
// 5. Client sends inputs and actions; server broadcasts state snapshots
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Zibor233/Christmas-Multiplayer-Game/config"
	"github.com/Zibor233/Christmas-Multiplayer-Game/internal/game"
	"github.com/Zibor233/Christmas-Multiplayer-Game/internal/protocol"
	"github.com/Zibor233/Christmas-Multiplayer-Game/internal/server"
	"github.com/Zibor233/Christmas-Multiplayer-Game/internal/storage"
)

// GameServer owns the HTTP surface and routes websocket clients into the
// room registry.
type GameServer struct {
	cfg      *config.Settings
	rooms    *game.Manager
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func main() {
	cfg := config.FromEnv()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	log.Printf("=================================")
	log.Printf("  %s", cfg.AppName)
	log.Printf("=================================")
	log.Printf("  Host: %s", cfg.Host)
	log.Printf("  Port: %d", cfg.Port)
	log.Printf("  Tick Rate: %d Hz", cfg.ServerTickHz)
	log.Printf("  Snapshot Rate: %d Hz", cfg.SnapshotHz)
	log.Printf("  Max Players/Room: %d", cfg.MaxPlayersPerRoom)
	log.Printf("=================================")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache := storage.NewRedisStore(ctx, cfg.RedisURL, logger)
	defer cache.Close()

	durable := storage.NewMySQLRepo(cfg.MySQLDSN, logger)
	if err := durable.Connect(); err != nil {
		logger.Fatal("mysql connect", zap.Error(err))
	}
	defer durable.Close()
	if err := durable.EnsureSchema(ctx); err != nil {
		logger.Fatal("mysql schema", zap.Error(err))
	}

	srv := &GameServer{
		cfg:   cfg,
		rooms: game.NewManager(cfg, cache, durable, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.CORSAllowOrigins),
		},
		log: logger,
	}

	// Background task: reap rooms that have sat empty past the idle window.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		maxIdle := time.Duration(cfg.RoomIdleSeconds) * time.Second
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.rooms.ReapIdle(maxIdle)
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WSPath, srv.handleWebSocket)
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/stats", srv.handleStats)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		srv.rooms.CloseAll()
	}()

	logger.Info("server listening", zap.String("addr", addr), zap.String("ws_path", cfg.WSPath))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}

// originChecker allows any origin for "*", otherwise an exact-match list.
func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// handleHealth responds to load balancer health checks.
func (s *GameServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleStats returns live room and player counts.
func (s *GameServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.rooms.GetStats()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(stats)
}

// handleWebSocket upgrades the connection and runs the session: a write
// pump goroutine plus this handler's read loop.
func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newClientConn(ws)
	go conn.writePump()

	sess := server.NewSession(s.cfg, s.rooms, conn, s.log)
	ctx := context.Background()
	defer func() {
		sess.Teardown(ctx)
		conn.Close()
	}()

	ws.SetReadLimit(4096)
	ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Hello handshake: the first frame decides whether the session lives.
	_, first, err := ws.ReadMessage()
	if err != nil {
		return
	}
	if err := sess.HandleHello(ctx, first); err != nil {
		return
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}
		sess.HandleMessage(ctx, data)
	}
}

// clientConn adapts a websocket to game.ClientConn with a buffered
// outbound channel. A full buffer drops the message instead of blocking;
// the client catches up on the next snapshot.
type clientConn struct {
	ws     *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func newClientConn(ws *websocket.Conn) *clientConn {
	return &clientConn{
		ws:     ws,
		sendCh: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

// Send queues a message for the write pump. Returns an error only once the
// connection is closed, which marks it dead for broadcast reaping.
func (c *clientConn) Send(msg protocol.Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return fmt.Errorf("connection closed")
	case c.sendCh <- data:
		return nil
	default:
		return nil
	}
}

// Close shuts the connection down. Safe to call multiple times.
func (c *clientConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.ws.Close()
}

// RemoteAddr returns the peer address for logging and the chat log.
func (c *clientConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// writePump serializes socket writes and keeps the connection alive with
// pings.
func (c *clientConn) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.sendCh:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
