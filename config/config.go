// Package config holds the server settings bag.
//
// All values come from environment variables with defaults; the returned
// Settings is treated as frozen after FromEnv.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Settings is the full configuration surface of the server.
type Settings struct {
	AppName          string
	Host             string
	Port             int
	CORSAllowOrigins []string
	WSPath           string

	MaxPlayersPerRoom int

	ServerTickHz     int
	SnapshotHz       int
	InputRateLimitHz int

	PlayerMaxSpeed float64
	PlayerMaxAccel float64
	WorldMinX      float64
	WorldMaxX      float64
	WorldMinZ      float64
	WorldMaxZ      float64

	TreeCenterX        float64
	TreeCenterZ        float64
	TreeInteractRadius float64
	TreeMaxDecorations int

	RedisURL string
	MySQLDSN string

	AdminPassword   string
	RoomIdleSeconds int
}

// Default returns the built-in configuration.
func Default() *Settings {
	return &Settings{
		AppName:            "christmas-ws",
		Host:               "0.0.0.0",
		Port:               8080,
		CORSAllowOrigins:   []string{"*"},
		WSPath:             "/ws",
		MaxPlayersPerRoom:  12,
		ServerTickHz:       20,
		SnapshotHz:         15,
		InputRateLimitHz:   30,
		PlayerMaxSpeed:     3.5,
		PlayerMaxAccel:     25.0,
		WorldMinX:          -14.0,
		WorldMaxX:          14.0,
		WorldMinZ:          -14.0,
		WorldMaxZ:          14.0,
		TreeCenterX:        0.0,
		TreeCenterZ:        0.0,
		TreeInteractRadius: 5.0,
		TreeMaxDecorations: 300,
		RedisURL:           "",
		MySQLDSN:           "",
		AdminPassword:      "20251225",
		RoomIdleSeconds:    300,
	}
}

// FromEnv loads settings from the environment, falling back to defaults.
func FromEnv() *Settings {
	s := Default()

	s.AppName = getEnv("APP_NAME", s.AppName)
	s.Host = getEnv("HOST", s.Host)
	s.Port = getEnvInt("PORT", s.Port)
	s.WSPath = getEnv("WS_PATH", s.WSPath)

	if raw := getEnv("CORS_ALLOW_ORIGINS", "*"); raw != "" {
		origins := make([]string, 0, 4)
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				origins = append(origins, part)
			}
		}
		if len(origins) > 0 {
			s.CORSAllowOrigins = origins
		}
	}

	s.MaxPlayersPerRoom = getEnvInt("MAX_PLAYERS_PER_ROOM", s.MaxPlayersPerRoom)
	s.ServerTickHz = getEnvInt("SERVER_TICK_HZ", s.ServerTickHz)
	s.SnapshotHz = getEnvInt("SNAPSHOT_HZ", s.SnapshotHz)
	s.InputRateLimitHz = getEnvInt("INPUT_RATE_LIMIT_HZ", s.InputRateLimitHz)

	s.PlayerMaxSpeed = getEnvFloat("PLAYER_MAX_SPEED", s.PlayerMaxSpeed)
	s.PlayerMaxAccel = getEnvFloat("PLAYER_MAX_ACCEL", s.PlayerMaxAccel)
	s.WorldMinX = getEnvFloat("WORLD_MIN_X", s.WorldMinX)
	s.WorldMaxX = getEnvFloat("WORLD_MAX_X", s.WorldMaxX)
	s.WorldMinZ = getEnvFloat("WORLD_MIN_Z", s.WorldMinZ)
	s.WorldMaxZ = getEnvFloat("WORLD_MAX_Z", s.WorldMaxZ)

	s.TreeCenterX = getEnvFloat("TREE_CENTER_X", s.TreeCenterX)
	s.TreeCenterZ = getEnvFloat("TREE_CENTER_Z", s.TreeCenterZ)
	s.TreeInteractRadius = getEnvFloat("TREE_INTERACT_RADIUS", s.TreeInteractRadius)
	s.TreeMaxDecorations = getEnvInt("TREE_MAX_DECORATIONS", s.TreeMaxDecorations)

	s.RedisURL = getEnv("REDIS_URL", s.RedisURL)
	s.MySQLDSN = getEnv("MYSQL_DSN", s.MySQLDSN)

	s.AdminPassword = getEnv("ADMIN_PASSWORD", s.AdminPassword)
	s.RoomIdleSeconds = getEnvInt("ROOM_IDLE_SECONDS", s.RoomIdleSeconds)

	return s
}

// getEnv returns the value of the environment variable named by the key,
// or fallback if the variable is unset or empty.
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}
