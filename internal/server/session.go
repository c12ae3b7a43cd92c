// Package server implements the per-client session state machine: hello
// handshake, message dispatch by type, and graceful teardown.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"go.uber.org/zap"

	"github.com/Zibor233/Christmas-Multiplayer-Game/config"
	"github.com/Zibor233/Christmas-Multiplayer-Game/internal/game"
	"github.com/Zibor233/Christmas-Multiplayer-Game/internal/protocol"
)

// ErrBadHello is returned when the first client message is not a valid
// hello; the caller closes the socket.
var ErrBadHello = errors.New("bad hello")

// Session runs the protocol for one connected client. It is driven by the
// transport's read loop: HandleHello for the first message, HandleMessage
// for the rest, Teardown when the connection ends for any reason.
type Session struct {
	cfg   *config.Settings
	rooms *game.Manager
	conn  game.ClientConn
	log   *zap.Logger

	room     *game.Room
	playerID string
}

// NewSession binds a connection to the room registry.
func NewSession(cfg *config.Settings, rooms *game.Manager, conn game.ClientConn, log *zap.Logger) *Session {
	return &Session{cfg: cfg, rooms: rooms, conn: conn, log: log}
}

// PlayerID returns the id assigned on join, or "" before hello.
func (s *Session) PlayerID() string { return s.playerID }

// HandleHello processes the mandatory first message. On anything that is
// not a hello envelope the client gets event.error/bad_hello and the
// returned error tells the caller to close. A full room also fails the
// join.
func (s *Session) HandleHello(ctx context.Context, data []byte) error {
	var msg protocol.Inbound
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != protocol.TypeHello {
		_ = s.conn.Send(protocol.Outbound{
			Type:    protocol.TypeError,
			Payload: protocol.ErrorPayload{Code: protocol.CodeBadHello},
		})
		return ErrBadHello
	}

	var hello protocol.HelloPayload
	if len(msg.Payload) > 0 {
		// Malformed payloads fall back to defaults, like an absent one.
		_ = json.Unmarshal(msg.Payload, &hello)
	}
	name := game.SanitizeName(hello.Name)
	roomID := game.SanitizeRoomID(hello.RoomID)

	room := s.rooms.GetOrCreate(ctx, roomID)
	playerID, err := room.AddPlayer(ctx, s.conn, name, peerHost(s.conn.RemoteAddr()))
	if err != nil {
		_ = s.conn.Send(protocol.Outbound{
			Type:    protocol.TypeError,
			Payload: protocol.ErrorPayload{Code: protocol.CodeRoomFull},
		})
		return err
	}
	s.room = room
	s.playerID = playerID

	if err := s.conn.Send(protocol.Outbound{
		Type: protocol.TypeWelcome,
		Payload: protocol.WelcomePayload{
			PlayerID: playerID,
			RoomID:   roomID,
			Phase:    room.Phase(),
		},
	}); err != nil {
		return err
	}

	if history := room.ChatHistory(ctx); len(history) > 0 {
		if err := s.conn.Send(protocol.Outbound{
			Type:    protocol.TypeChatHistory,
			Payload: protocol.ChatHistoryPayload{Messages: history},
		}); err != nil {
			return err
		}
	}
	return nil
}

// HandleMessage dispatches one post-hello message by type. Payloads that
// fail to decode are dropped; unknown types get an advisory notice.
func (s *Session) HandleMessage(ctx context.Context, data []byte) {
	if s.room == nil {
		return
	}
	var msg protocol.Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	switch msg.Type {
	case protocol.TypeSetName:
		var p protocol.SetNamePayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			s.room.SetName(ctx, s.playerID, game.SanitizeName(p.Name))
		}

	case protocol.TypeMoveInput:
		var p protocol.MoveInputPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			s.room.SubmitMoveInput(s.playerID, p)
		}

	case protocol.TypeCosmetic:
		var p protocol.CosmeticPayload
		if json.Unmarshal(msg.Payload, &p) == nil && p.Hat != nil {
			s.room.SetCosmetic(s.playerID, *p.Hat)
		}

	case protocol.TypeTreePlace:
		var p protocol.PlacePayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			s.room.PlaceDecoration(ctx, s.playerID, p)
		}

	case protocol.TypeChatSend:
		var p protocol.ChatSendPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			s.room.SendChat(ctx, s.playerID, p.Text)
		}

	case protocol.TypeChatClear:
		var p protocol.ChatClearPayload
		_ = json.Unmarshal(msg.Payload, &p)
		if p.Password == s.cfg.AdminPassword {
			s.room.ClearChat(ctx)
		} else {
			_ = s.conn.Send(protocol.Outbound{
				Type: protocol.TypeNotice,
				Payload: protocol.NoticePayload{
					Code:    protocol.CodeWrongPassword,
					Message: "管理员密码错误",
				},
			})
		}

	default:
		_ = s.conn.Send(protocol.Outbound{
			Type: protocol.TypeNotice,
			Payload: protocol.NoticePayload{
				Code: protocol.CodeUnknownType,
				Type: msg.Type,
			},
		})
	}
}

// Teardown removes the player from their room. Safe to call whether or not
// the hello completed.
func (s *Session) Teardown(ctx context.Context) {
	if s.room != nil && s.playerID != "" {
		s.room.RemovePlayer(ctx, s.playerID)
		s.log.Debug("session torn down", zap.String("player", s.playerID))
	}
}

// peerHost extracts the host from a host:port remote address, best-effort.
func peerHost(addr string) string {
	if addr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
