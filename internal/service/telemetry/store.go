// Package telemetry 设备遥测存储：记录设备上报的状态和日志，方便排查
// 休眠异常、电量异常这类只在设备端暴露的问题。
package telemetry

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaFS embed.FS

// Store SQLite 遥测存储
type Store struct {
	db *sql.DB
}

// StatusReport 设备状态上报
type StatusReport struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"deviceId"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// LogEntry 设备转发的日志行
type LogEntry struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"deviceId"`
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// New 创建 Store，首次使用时建表
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite 建议单连接
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := s.db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordStatus 记录一条设备状态上报，payload 原样存 JSON 字符串
func (s *Store) RecordStatus(deviceID, payload string) error {
	_, err := s.db.Exec(
		`INSERT INTO device_status (id, device_id, payload, received_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), deviceID, payload, time.Now().UTC(),
	)
	return err
}

// RecordLog 记录一行设备日志
func (s *Store) RecordLog(deviceID, level, message string) error {
	_, err := s.db.Exec(
		`INSERT INTO device_logs (id, device_id, level, message, received_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), deviceID, level, message, time.Now().UTC(),
	)
	return err
}

// LatestStatus 某设备最近一次状态上报，没有记录时返回 sql.ErrNoRows
func (s *Store) LatestStatus(deviceID string) (*StatusReport, error) {
	row := s.db.QueryRow(
		`SELECT id, device_id, payload, received_at FROM device_status
		 WHERE device_id = ? ORDER BY received_at DESC LIMIT 1`,
		deviceID,
	)

	var report StatusReport
	if err := row.Scan(&report.ID, &report.DeviceID, &report.Payload, &report.ReceivedAt); err != nil {
		return nil, err
	}
	return &report, nil
}

// RecentLogs 最近的日志行，新的在前
func (s *Store) RecentLogs(limit int) ([]LogEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, device_id, level, message, received_at FROM device_logs
		 ORDER BY received_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []LogEntry{}
	for rows.Next() {
		var entry LogEntry
		if err := rows.Scan(&entry.ID, &entry.DeviceID, &entry.Level, &entry.Message, &entry.ReceivedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
