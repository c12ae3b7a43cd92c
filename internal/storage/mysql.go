package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/Zibor233/Christmas-Multiplayer-Game/internal/protocol"
)

// mysqlErrUnknownDatabase is the server error for a missing schema.
const mysqlErrUnknownDatabase = 1049

// MySQLRepo is the durable store: tree state upserted by room and an
// append-only chat log deletable by room.
type MySQLRepo struct {
	db  *sql.DB
	dsn string
	log *zap.Logger
}

// NewMySQLRepo prepares a repository for dsn. An empty dsn yields a
// disabled repo whose operations are no-ops.
func NewMySQLRepo(dsn string, log *zap.Logger) *MySQLRepo {
	return &MySQLRepo{dsn: dsn, log: log}
}

// Connect opens the connection pool. The database itself may not exist
// yet; EnsureSchema handles that.
func (r *MySQLRepo) Connect() error {
	if r.dsn == "" {
		return nil
	}
	db, err := sql.Open("mysql", r.dsn)
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	r.db = db
	return nil
}

// Enabled reports whether a backend is attached.
func (r *MySQLRepo) Enabled() bool { return r.db != nil }

// Close releases the pool.
func (r *MySQLRepo) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS room_tree_state (
		id INT AUTO_INCREMENT PRIMARY KEY,
		room_id VARCHAR(64) NOT NULL UNIQUE,
		json_blob TEXT NOT NULL,
		updated_ms BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_log (
		id INT AUTO_INCREMENT PRIMARY KEY,
		room_id VARCHAR(64) NOT NULL,
		player_id VARCHAR(64) NOT NULL,
		player_name VARCHAR(64) NOT NULL,
		player_ip VARCHAR(64) NOT NULL,
		message TEXT NOT NULL,
		created_ms BIGINT NOT NULL,
		KEY idx_chat_room (room_id),
		KEY idx_chat_created (created_ms)
	)`,
}

// Legacy deployments created the millisecond columns as INT; widen them.
var schemaRepairDDL = []string{
	`ALTER TABLE room_tree_state MODIFY updated_ms BIGINT`,
	`ALTER TABLE chat_log MODIFY created_ms BIGINT`,
}

// EnsureSchema creates the tables, creating the database itself first if
// the server reports it missing. Errors other than unknown-database
// propagate and are startup-fatal for the caller.
func (r *MySQLRepo) EnsureSchema(ctx context.Context) error {
	if r.db == nil {
		return nil
	}

	err := r.createTables(ctx)
	if err != nil && isUnknownDatabase(err) {
		if err = r.createDatabase(ctx); err != nil {
			return err
		}
		err = r.createTables(ctx)
	}
	if err != nil {
		return err
	}

	for _, ddl := range schemaRepairDDL {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			r.log.Debug("schema repair skipped", zap.Error(err))
		}
	}
	return nil
}

func (r *MySQLRepo) createTables(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// createDatabase connects without a schema selected and creates the one
// named in the DSN.
func (r *MySQLRepo) createDatabase(ctx context.Context) error {
	cfg, err := mysql.ParseDSN(r.dsn)
	if err != nil {
		return fmt.Errorf("parse mysql dsn: %w", err)
	}
	dbName := cfg.DBName
	if dbName == "" {
		return errors.New("mysql dsn has no database name")
	}
	cfg.DBName = ""

	server, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return err
	}
	defer server.Close()

	stmt := fmt.Sprintf(
		"CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci",
		dbName,
	)
	_, err = server.ExecContext(ctx, stmt)
	return err
}

func isUnknownDatabase(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlErrUnknownDatabase
	}
	return strings.Contains(strings.ToLower(err.Error()), "unknown database")
}

// TreeState returns the tree blob for roomID, or nil when absent.
func (r *MySQLRepo) TreeState(ctx context.Context, roomID string) ([]byte, error) {
	if r.db == nil {
		return nil, nil
	}
	var blob []byte
	err := r.db.QueryRowContext(ctx,
		"SELECT json_blob FROM room_tree_state WHERE room_id = ?", roomID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// UpsertTreeState writes one row per room.
func (r *MySQLRepo) UpsertTreeState(ctx context.Context, roomID string, state []byte, updatedMs int64) error {
	if r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO room_tree_state (room_id, json_blob, updated_ms) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE json_blob = VALUES(json_blob), updated_ms = VALUES(updated_ms)`,
		roomID, state, updatedMs,
	)
	return err
}

// InsertChatMessage appends one row to the chat log.
func (r *MySQLRepo) InsertChatMessage(ctx context.Context, roomID string, msg protocol.ChatMessage, playerIP string) error {
	if r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_log (room_id, player_id, player_name, player_ip, message, created_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		roomID, msg.PlayerID, msg.Name, playerIP, msg.Text, msg.ServerTimeMs,
	)
	return err
}

// DeleteChatHistory bulk-deletes the room's chat log.
func (r *MySQLRepo) DeleteChatHistory(ctx context.Context, roomID string) error {
	if r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, "DELETE FROM chat_log WHERE room_id = ?", roomID)
	return err
}
