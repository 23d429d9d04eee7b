package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rados-io/saturn-presale/core/events"
)

// Record is a persisted ledger event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"size:64;index;not null"`
	Subject    string    `gorm:"size:42;index"`
	GrantID    uint64    `gorm:"index"`
	Attributes string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"index"`
}

// TableName pins the table name independent of the struct name.
func (Record) TableName() string { return "presale_events" }

// Open connects to the configured audit database.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	return db, nil
}

// AutoMigrate performs all schema migrations for the audit store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

// Store persists ledger events and answers audit queries. It implements
// events.Emitter; write failures are logged and never surface to the ledger.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time
}

// NewStore migrates the schema and returns a store.
func NewStore(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("audit: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Store{db: db, logger: log, nowFn: time.Now}, nil
}

// Emit implements events.Emitter.
func (s *Store) Emit(evt events.Event) {
	if s == nil {
		return
	}
	payload := events.PayloadOf(evt)
	if payload == nil {
		return
	}
	if _, err := s.Append(context.Background(), payload.Type, payload.Attributes); err != nil {
		s.logger.Error("audit: append failed",
			slog.String("event", payload.Type),
			slog.String("error", err.Error()))
	}
}

// Append stores an event and returns the persisted record. Sequence numbers are
// assigned inside the transaction so they are gap free.
func (s *Store) Append(ctx context.Context, eventType string, attributes map[string]string) (*Record, error) {
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return nil, fmt.Errorf("audit: encode attributes: %w", err)
	}
	record := &Record{
		ID:         uuid.New(),
		Type:       eventType,
		Subject:    subjectOf(attributes),
		GrantID:    grantIDOf(attributes),
		Attributes: string(encoded),
		CreatedAt:  s.nowFn().UTC(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last struct{ Max uint64 }
		if err := tx.Model(&Record{}).Select("COALESCE(MAX(sequence), 0) AS max").Scan(&last).Error; err != nil {
			return err
		}
		record.Sequence = last.Max + 1
		return tx.Create(record).Error
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Query filters stored events.
type Query struct {
	Type    string
	Subject string
	GrantID uint64
	// AfterSequence returns only records with a greater sequence.
	AfterSequence uint64
	Limit         int
}

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// List returns matching records in sequence order.
func (s *Store) List(ctx context.Context, q Query) ([]Record, error) {
	tx := s.db.WithContext(ctx).Model(&Record{})
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.Subject != "" {
		tx = tx.Where("subject = ?", strings.ToLower(q.Subject))
	}
	if q.GrantID != 0 {
		tx = tx.Where("grant_id = ?", q.GrantID)
	}
	if q.AfterSequence != 0 {
		tx = tx.Where("sequence > ?", q.AfterSequence)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	var records []Record
	if err := tx.Order("sequence ASC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of stored events of the given type, or all events
// when eventType is empty.
func (s *Store) Count(ctx context.Context, eventType string) (int64, error) {
	tx := s.db.WithContext(ctx).Model(&Record{})
	if eventType != "" {
		tx = tx.Where("type = ?", eventType)
	}
	var count int64
	err := tx.Count(&count).Error
	return count, err
}

// DecodeAttributes returns the record's attribute map.
func (r Record) DecodeAttributes() (map[string]string, error) {
	out := make(map[string]string)
	if r.Attributes == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// subjectOf picks the account the event is about, lower-cased for lookups.
func subjectOf(attrs map[string]string) string {
	for _, key := range []string{"owner", "address", "from"} {
		if v := strings.TrimSpace(attrs[key]); v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}

func grantIDOf(attrs map[string]string) uint64 {
	id, err := strconv.ParseUint(strings.TrimSpace(attrs["id"]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
