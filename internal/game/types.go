// Package game implements the authoritative room runtime: player and
// decoration state, movement constraint enforcement, input rate limiting,
// the fixed-rate tick loop and snapshot broadcast.
package game

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// DefaultName is assigned when a client provides no usable name.
const DefaultName = "游客"

// DefaultRoomID is assigned when a client provides no usable room id.
const DefaultRoomID = "public"

// PhasePlay is the only room phase in this version.
const PhasePlay = "PLAY"

// Decoration placement bounds on the tree.
const (
	MinDecorationHeight = 0.12
	MaxDecorationHeight = 1.28
)

// Decoration type enum.
const (
	DecoBell    = "bell"
	DecoMiniHat = "mini_hat"
	DecoTinsel  = "tinsel"
)

// ValidDecorationType reports whether t is a known decoration type.
func ValidDecorationType(t string) bool {
	switch t {
	case DecoBell, DecoMiniHat, DecoTinsel:
		return true
	}
	return false
}

// PlayerKinematic is the 2D kinematic state of a player. Y is unused
// scenery height and stays 0.
type PlayerKinematic struct {
	X, Y, Z float64
	Vx, Vz  float64
	Yaw     float64
}

// PlayerCosmetic is the cosmetic state of a player.
type PlayerCosmetic struct {
	Hat bool
}

// CheatFlags records constraint-clamp events and input denials for a
// player. Flags are sticky for the life of the runtime record.
type CheatFlags struct {
	SpeedClamped bool
	XClamped     bool
	ZClamped     bool
	RateLimited  bool
}

// Merge folds constraint evaluation flags into the sticky set.
func (f *CheatFlags) Merge(m MoveFlags) {
	f.SpeedClamped = f.SpeedClamped || m.SpeedClamped
	f.XClamped = f.XClamped || m.XClamped
	f.ZClamped = f.ZClamped || m.ZClamped
}

// PlayerRuntime is the server-side record for one player. LastAxis is the
// latest normalized desired direction; the tick loop reads it to steer the
// integrator.
type PlayerRuntime struct {
	PlayerID string
	Name     string
	IP       string

	Kin PlayerKinematic

	LastInputSeq          int64
	LastInputClientTimeMs int64
	LastAxisX             float64
	LastAxisZ             float64

	Cheat       CheatFlags
	Cosmetic    PlayerCosmetic
	PlacedCount int
}

// Decoration is one ornament hung on the shared tree.
type Decoration struct {
	ID       string
	Type     string
	Angle    float64
	Height   float64
	PlacedBy string
	PlacedMs int64
}

// NewID mints an opaque 32-hex identifier.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// SanitizeName trims and bounds a display name to 1..16 characters,
// substituting the default on empty input.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultName
	}
	if runes := []rune(name); len(runes) > 16 {
		return string(runes[:16])
	}
	return name
}

// SanitizeRoomID reduces a room id to [A-Za-z0-9_-], at most 32 characters,
// substituting the default when nothing survives.
func SanitizeRoomID(id string) string {
	id = strings.TrimSpace(id)
	if runes := []rune(id); len(runes) > 32 {
		id = string(runes[:32])
	}
	var b strings.Builder
	for _, ch := range id {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
			b.WriteRune(ch)
		}
	}
	if b.Len() == 0 {
		return DefaultRoomID
	}
	return b.String()
}
