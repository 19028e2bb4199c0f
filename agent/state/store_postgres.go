package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s"`
}

type trackerRow struct {
	bun.BaseModel `bun:"table:coco_trackers,alias:t"`

	SenderID  string          `bun:"sender_id,pk"`
	Payload   json.RawMessage `bun:"payload,type:jsonb,notnull"`
	UpdatedAt time.Time       `bun:"updated_at,notnull"`
}

// PostgresStore persists trackers as jsonb rows keyed by sender id.
type PostgresStore struct {
	db *bun.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
	if cfg.Timeout > 0 {
		opts = append(opts, pgdriver.WithTimeout(cfg.Timeout))
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))

	return NewPostgresStoreFromDB(ctx, bun.NewDB(sqldb, pgdialect.New()))
}

// NewPostgresStoreFromDB wraps an existing bun handle and ensures the table exists.
func NewPostgresStoreFromDB(ctx context.Context, db *bun.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	if _, err := db.NewCreateTable().Model((*trackerRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("create tracker table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Load(ctx context.Context, senderID string) (*Tracker, error) {
	if strings.TrimSpace(senderID) == "" {
		return nil, ErrInvalidSender
	}

	row := new(trackerRow)
	err := s.db.NewSelect().Model(row).Where("sender_id = ?", senderID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTrackerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select tracker: %w", err)
	}

	return decodeTrackerRow(row)
}

func (s *PostgresStore) Save(ctx context.Context, t *Tracker) error {
	row, err := encodeTrackerRow(t)
	if err != nil {
		return err
	}

	_, err = s.db.NewInsert().
		Model(row).
		On("CONFLICT (sender_id) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert tracker: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, senderID string) error {
	if strings.TrimSpace(senderID) == "" {
		return ErrInvalidSender
	}
	if _, err := s.db.NewDelete().Model((*trackerRow)(nil)).Where("sender_id = ?", senderID).Exec(ctx); err != nil {
		return fmt.Errorf("delete tracker: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func encodeTrackerRow(t *Tracker) (*trackerRow, error) {
	if t == nil {
		return nil, ErrNilTracker
	}
	if strings.TrimSpace(t.ID) == "" {
		return nil, ErrInvalidSender
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal tracker: %w", err)
	}
	return &trackerRow{
		SenderID:  t.ID,
		Payload:   payload,
		UpdatedAt: t.UpdatedAt.UTC(),
	}, nil
}

func decodeTrackerRow(row *trackerRow) (*Tracker, error) {
	var t Tracker
	if err := json.Unmarshal(row.Payload, &t); err != nil {
		return nil, fmt.Errorf("unmarshal tracker: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker loaded from store: %w", err)
	}
	return &t, nil
}
