package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vestchain/core/events"
	"vestchain/core/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	subscriberBuffer = 64
)

// ErrUnsupportedDriver is returned by Open for unknown database drivers.
var ErrUnsupportedDriver = errors.New("indexer: unsupported driver")

// Filter narrows List results. Zero values disable the corresponding filter.
type Filter struct {
	Type        string
	Beneficiary string
	After       uint64
	Limit       int
}

// Store persists every ledger event and fans it out to live subscribers. It
// implements events.Emitter so it can be attached directly to the engine.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	seq  uint64
	subs map[int]chan EventRecord
	next int
}

// Open connects to the configured database. driver is "sqlite" or "postgres".
func Open(driver, dsn string, log *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open database: %w", err)
	}
	return New(db, log)
}

// New migrates the schema on db and resumes the sequence counter.
func New(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: nil database")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	var last EventRecord
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("indexer: load sequence: %w", err)
	}
	return &Store{
		db:     db,
		logger: log.With("component", "indexer"),
		now:    time.Now,
		seq:    last.Sequence,
		subs:   make(map[int]chan EventRecord),
	}, nil
}

// Emit implements events.Emitter. Persistence failures are logged; the ledger
// mutation that produced the event has already committed.
func (s *Store) Emit(evt events.Event) {
	typed, ok := evt.(events.Typed)
	if !ok {
		return
	}
	if _, err := s.Record(context.Background(), typed.Event()); err != nil {
		s.logger.Error("index event", "type", evt.EventType(), "error", err)
	}
}

// Record persists evt and publishes it to subscribers.
func (s *Store) Record(ctx context.Context, evt *types.Event) (*EventRecord, error) {
	if evt == nil {
		return nil, fmt.Errorf("indexer: nil event")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := newRecord(s.seq+1, evt, s.now())
	if err != nil {
		return nil, fmt.Errorf("indexer: encode attributes: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("indexer: insert: %w", err)
	}
	s.seq = rec.Sequence
	for _, ch := range s.subs {
		select {
		case ch <- *rec:
		default:
			s.logger.Warn("subscriber lagging, dropping event", "sequence", rec.Sequence)
		}
	}
	return rec, nil
}

// List returns records in sequence order.
func (s *Store) List(ctx context.Context, filter Filter) ([]EventRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := s.db.WithContext(ctx).Model(&EventRecord{}).Where("sequence > ?", filter.After)
	if t := strings.TrimSpace(filter.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	if b := strings.TrimSpace(filter.Beneficiary); b != "" {
		query = query.Where("beneficiary = ?", b)
	}
	var out []EventRecord
	if err := query.Order("sequence asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("indexer: list: %w", err)
	}
	return out, nil
}

// All returns every record in sequence order.
func (s *Store) All(ctx context.Context) ([]EventRecord, error) {
	var out []EventRecord
	if err := s.db.WithContext(ctx).Order("sequence asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("indexer: list: %w", err)
	}
	return out, nil
}

// Subscribe registers a live feed. The returned cancel function must be
// called to release the channel.
func (s *Store) Subscribe() (<-chan EventRecord, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	ch := make(chan EventRecord, subscriberBuffer)
	s.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
