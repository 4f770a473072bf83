// Package db persists decoded RFXtrx readings in sqlite.
package db

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agalera/rfxcom/internal/protocol"
)

const (
	// DefaultReadingsLimit applies when a filter leaves Limit unset.
	DefaultReadingsLimit = 100
	// MaxReadingsLimit caps a single query.
	MaxReadingsLimit = 5000
)

type DB struct {
	*sql.DB
	path string

	// now is replaced in tests.
	now func() time.Time
}

// OpenDB opens the sqlite database at path without touching the schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; serialise through one connection.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return &DB{DB: sqlDB, path: path, now: time.Now}, nil
}

// NewDB opens the database at path and applies all pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migrations, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(migrations); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }

// Reading is one stored decoder result.
type Reading struct {
	ID            string          `json:"id"`
	Family        string          `json:"family"`
	PacketType    int             `json:"packet_type"`
	PacketSubtype int             `json:"packet_subtype"`
	DeviceID      string          `json:"device_id"`
	ReceivedAt    time.Time       `json:"received_at"`
	Fields        protocol.Result `json:"fields"`
	Raw           string          `json:"raw,omitempty"`
}

// RecordReading stores a decoded record for family and returns the new
// reading id. raw is the original frame and may be nil.
func (db *DB) RecordReading(family string, r protocol.Result, raw []byte) (string, error) {
	if family == "" {
		return "", fmt.Errorf("family is required")
	}
	deviceID, ok := r.Text("id")
	if !ok {
		return "", fmt.Errorf("record has no device id")
	}
	packetType, ok := r.Int("packet_type")
	if !ok {
		return "", fmt.Errorf("record has no packet_type")
	}
	packetSubtype, ok := r.Int("packet_subtype")
	if !ok {
		return "", fmt.Errorf("record has no packet_subtype")
	}

	fieldsJSON, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode fields: %w", err)
	}

	var rawHex sql.NullString
	if len(raw) > 0 {
		rawHex = sql.NullString{String: protocol.DumpHex(raw), Valid: true}
	}

	id := uuid.NewString()
	_, err = db.Exec(
		`INSERT INTO readings (
			reading_id, family, packet_type, packet_subtype, device_id,
			received_unix_nanos, fields_json, raw_hex
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, family, packetType, packetSubtype, deviceID,
		db.now().UnixNano(), string(fieldsJSON), rawHex,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert reading: %w", err)
	}
	return id, nil
}

// ReadingFilter narrows Readings. Zero fields match everything.
type ReadingFilter struct {
	Family   string
	DeviceID string
	Since    time.Time
	Limit    int
}

func (f ReadingFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultReadingsLimit
	case f.Limit > MaxReadingsLimit:
		return MaxReadingsLimit
	}
	return f.Limit
}

const readingColumns = `reading_id, family, packet_type, packet_subtype, device_id,
	received_unix_nanos, fields_json, raw_hex`

// Readings returns stored readings newest first.
func (db *DB) Readings(f ReadingFilter) ([]Reading, error) {
	var (
		where []string
		args  []any
	)
	if f.Family != "" {
		where = append(where, "family = ?")
		args = append(args, f.Family)
	}
	if f.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if !f.Since.IsZero() {
		where = append(where, "received_unix_nanos >= ?")
		args = append(args, f.Since.UnixNano())
	}

	query := "SELECT " + readingColumns + " FROM readings"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY received_unix_nanos DESC, rowid DESC LIMIT ?"
	args = append(args, f.limit())

	return db.queryReadings(query, args...)
}

// LatestByDevice returns the most recent reading of every (family, device)
// pair, ordered by family then device id.
func (db *DB) LatestByDevice() ([]Reading, error) {
	return db.queryReadings(`SELECT ` + readingColumns + ` FROM readings
		WHERE rowid IN (SELECT MAX(rowid) FROM readings GROUP BY family, device_id)
		ORDER BY family, device_id`)
}

// CountByFamily returns the number of stored readings per family.
func (db *DB) CountByFamily() (map[string]int, error) {
	rows, err := db.Query("SELECT family, COUNT(*) FROM readings GROUP BY family")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			family string
			n      int
		)
		if err := rows.Scan(&family, &n); err != nil {
			return nil, err
		}
		counts[family] = n
	}
	return counts, rows.Err()
}

// SeriesPoint is one numeric sample of a reading field.
type SeriesPoint struct {
	DeviceID   string    `json:"device_id"`
	ReceivedAt time.Time `json:"received_at"`
	Value      float64   `json:"value"`
}

var fieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// NumericSeries returns the latest limit samples of field for family,
// oldest first. Readings where the field is absent or not a number are
// skipped.
func (db *DB) NumericSeries(family, field string, limit int) ([]SeriesPoint, error) {
	if !fieldNamePattern.MatchString(field) {
		return nil, fmt.Errorf("invalid field name %q", field)
	}
	limit = ReadingFilter{Limit: limit}.limit()

	path := "$." + field
	rows, err := db.Query(`SELECT device_id, received_unix_nanos, json_extract(fields_json, ?)
		FROM readings
		WHERE family = ? AND json_type(fields_json, ?) IN ('integer', 'real')
		ORDER BY received_unix_nanos DESC, rowid DESC
		LIMIT ?`, path, family, path, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []SeriesPoint
	for rows.Next() {
		var (
			p     SeriesPoint
			nanos int64
		)
		if err := rows.Scan(&p.DeviceID, &nanos, &p.Value); err != nil {
			return nil, err
		}
		p.ReceivedAt = time.Unix(0, nanos).UTC()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(points)
	return points, nil
}

// RejectedFrame is a frame that no decoder accepted.
type RejectedFrame struct {
	ID         int64     `json:"id"`
	Raw        string    `json:"raw"`
	Reason     string    `json:"reason"`
	ReceivedAt time.Time `json:"received_at"`
}

// RecordRejectedFrame stores a frame that failed to decode.
func (db *DB) RecordRejectedFrame(raw []byte, reason string) error {
	_, err := db.Exec(
		"INSERT INTO rejected_frames (raw_hex, reason, received_unix_nanos) VALUES (?, ?, ?)",
		protocol.DumpHex(raw), reason, db.now().UnixNano(),
	)
	return err
}

// RejectedFrames returns the most recent rejected frames, newest first.
func (db *DB) RejectedFrames(limit int) ([]RejectedFrame, error) {
	limit = ReadingFilter{Limit: limit}.limit()
	rows, err := db.Query(`SELECT frame_id, raw_hex, reason, received_unix_nanos
		FROM rejected_frames ORDER BY received_unix_nanos DESC, frame_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []RejectedFrame
	for rows.Next() {
		var (
			f     RejectedFrame
			nanos int64
		)
		if err := rows.Scan(&f.ID, &f.Raw, &f.Reason, &nanos); err != nil {
			return nil, err
		}
		f.ReceivedAt = time.Unix(0, nanos).UTC()
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

func (db *DB) queryReadings(query string, args ...any) ([]Reading, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var (
			r          Reading
			nanos      int64
			fieldsJSON string
			rawHex     sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.Family, &r.PacketType, &r.PacketSubtype, &r.DeviceID,
			&nanos, &fieldsJSON, &rawHex,
		); err != nil {
			return nil, err
		}
		r.ReceivedAt = time.Unix(0, nanos).UTC()
		r.Raw = rawHex.String
		if r.Fields, err = decodeFields(fieldsJSON); err != nil {
			return nil, fmt.Errorf("reading %s: %w", r.ID, err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return readings, nil
}

// decodeFields restores a stored record, keeping whole numbers as int so
// the result matches what the decoder produced.
func decodeFields(s string) (protocol.Result, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}

	out := make(protocol.Result, len(raw))
	for k, v := range raw {
		n, ok := v.(json.Number)
		if !ok {
			out[k] = v
			continue
		}
		if i, err := n.Int64(); err == nil && !strings.ContainsAny(n.String(), ".eE") {
			out[k] = int(i)
			continue
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}
