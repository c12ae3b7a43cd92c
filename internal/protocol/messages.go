// Package protocol defines the JSON wire protocol.
//
// Every message on the socket is an envelope of the form
//
//	{"type": "<string>", "payload": {...}}
//
// Inbound keeps the payload raw so each handler can decode its own shape;
// a payload that fails to decode is treated as malformed and ignored.
package protocol

import "encoding/json"

// Message types, client -> server.
const (
	TypeHello     = "hello"
	TypeSetName   = "set_name"
	TypeMoveInput = "input.move"
	TypeCosmetic  = "player.cosmetic"
	TypeTreePlace = "tree.place"
	TypeChatSend  = "chat.send"
	TypeChatClear = "chat.clear"
)

// Message types, server -> client.
const (
	TypeWelcome     = "welcome"
	TypeChatHistory = "chat.history"
	TypeSnapshot    = "state.snapshot"
	TypeTreePlaced  = "tree.placed"
	TypeChatMessage = "chat.message"
	TypeChatCleared = "chat.cleared"
	TypeError       = "event.error"
	TypeNotice      = "event.notice"
)

// Error and notice codes.
const (
	CodeBadHello      = "bad_hello"
	CodeRoomFull      = "room_full"
	CodeWrongPassword = "wrong_password"
	CodeUnknownType   = "unknown_type"
)

// Inbound is a client message with an undecoded payload.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Outbound is a server message ready for marshalling.
type Outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// HelloPayload opens a session.
type HelloPayload struct {
	Name   string `json:"name"`
	RoomID string `json:"room_id"`
}

// SetNamePayload renames the player.
type SetNamePayload struct {
	Name string `json:"name"`
}

// MoveInputPayload is a movement intent. Seq is client-monotonic.
type MoveInputPayload struct {
	Seq          int64   `json:"seq"`
	Ax           float64 `json:"ax"`
	Az           float64 `json:"az"`
	ClientTimeMs int64   `json:"client_time_ms"`
}

// CosmeticPayload toggles cosmetics. Hat is a pointer so a missing or
// non-boolean value is distinguishable and dropped.
type CosmeticPayload struct {
	Hat *bool `json:"hat"`
}

// SlotPayload is where a decoration goes on the tree.
type SlotPayload struct {
	Angle  *float64 `json:"angle"`
	Height *float64 `json:"height"`
}

// PlacePayload asks to hang a decoration.
type PlacePayload struct {
	Type string       `json:"type"`
	Slot *SlotPayload `json:"slot"`
}

// ChatSendPayload carries chat text.
type ChatSendPayload struct {
	Text string `json:"text"`
}

// ChatClearPayload is the admin chat wipe request.
type ChatClearPayload struct {
	Password string `json:"password"`
}

// WelcomePayload acknowledges a successful join.
type WelcomePayload struct {
	PlayerID string `json:"player_id"`
	RoomID   string `json:"room_id"`
	Phase    string `json:"phase"`
}

// ChatMessage is a single chat entry, shared by the broadcast path, the
// cache ring and the durable log.
type ChatMessage struct {
	ID           string `json:"id"`
	RoomID       string `json:"room_id"`
	PlayerID     string `json:"player_id"`
	Name         string `json:"name"`
	Text         string `json:"text"`
	ServerTimeMs int64  `json:"server_time_ms"`
}

// ChatHistoryPayload replays the cached chat ring, oldest first.
type ChatHistoryPayload struct {
	Messages []ChatMessage `json:"messages"`
}

// Decoration is the wire shape of one tree ornament.
type Decoration struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Angle    float64 `json:"angle"`
	Height   float64 `json:"height"`
	PlacedBy string  `json:"placed_by"`
	PlacedMs int64   `json:"placed_ms"`
}

// TreeState is the persisted tree blob and the tree section of snapshots.
type TreeState struct {
	RoomID      string       `json:"room_id,omitempty"`
	Decorations []Decoration `json:"decorations"`
}

// CosmeticState is the cosmetic section of a player snapshot.
type CosmeticState struct {
	Hat bool `json:"hat"`
}

// PlayerSnapshot is one player's entry in a state snapshot.
type PlayerSnapshot struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	X           float64       `json:"x"`
	Y           float64       `json:"y"`
	Z           float64       `json:"z"`
	Vx          float64       `json:"vx"`
	Vz          float64       `json:"vz"`
	Yaw         float64       `json:"yaw"`
	Cosmetic    CosmeticState `json:"cosmetic"`
	PlacedCount int           `json:"placed_count"`
}

// SnapshotPayload is the full room state broadcast at the snapshot cadence.
// Ack maps player id to the last input sequence the server applied.
type SnapshotPayload struct {
	ServerTimeMs int64            `json:"server_time_ms"`
	RoomID       string           `json:"room_id"`
	Phase        string           `json:"phase"`
	Players      []PlayerSnapshot `json:"players"`
	Ack          map[string]int64 `json:"ack"`
	Tree         TreeState        `json:"tree"`
}

// ErrorPayload is a fatal per-connection error.
type ErrorPayload struct {
	Code string `json:"code"`
}

// NoticePayload is a non-fatal advisory.
type NoticePayload struct {
	Code    string `json:"code"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

// EmptyPayload is used for messages that carry no data.
type EmptyPayload struct{}
