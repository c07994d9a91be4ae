package llmcall

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides access to LLM call records.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the sqlite call log at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create call log directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}

	// sqlite allows one writer; a single connection also keeps :memory: databases shared.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access call log handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := NewStore(db)
	if err := s.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing gorm handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the calls table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Call{}); err != nil {
		return fmt.Errorf("failed to migrate call log: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts calls in one statement.
func (s *Store) Create(ctx context.Context, calls ...Call) error {
	if len(calls) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&calls).Error; err != nil {
		return fmt.Errorf("failed to insert %d calls: %w", len(calls), err)
	}
	return nil
}

// Get retrieves a single LLM call by ID. Returns nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Call, error) {
	var call Call
	err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&call).Error
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	if call.ID == "" {
		return nil, nil
	}
	return &call, nil
}

// QueryFilter specifies filters for listing LLM calls.
type QueryFilter struct {
	JobID     string
	PromptKey string
	Provider  string
	Success   *bool
	After     *time.Time
	Limit     int
	Offset    int
}

// List retrieves LLM calls matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter QueryFilter) ([]Call, error) {
	q := s.db.WithContext(ctx).Model(&Call{})
	if filter.JobID != "" {
		q = q.Where("job_id = ?", filter.JobID)
	}
	if filter.PromptKey != "" {
		q = q.Where("prompt_key = ?", filter.PromptKey)
	}
	if filter.Provider != "" {
		q = q.Where("provider = ?", filter.Provider)
	}
	if filter.Success != nil {
		q = q.Where("success = ?", *filter.Success)
	}
	if filter.After != nil {
		q = q.Where("timestamp > ?", *filter.After)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	q = q.Order("timestamp DESC").Limit(limit)
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var calls []Call
	if err := q.Find(&calls).Error; err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return calls, nil
}

// Counts aggregates call outcomes for a job.
type Counts struct {
	Total        int64 `json:"total"`
	Succeeded    int64 `json:"succeeded"`
	Failed       int64 `json:"failed"`
	RateLimited  int64 `json:"rate_limited"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Counts returns aggregate statistics. An empty jobID covers all jobs.
func (s *Store) Counts(ctx context.Context, jobID string) (Counts, error) {
	var out Counts
	q := s.db.WithContext(ctx).Model(&Call{})
	if jobID != "" {
		q = q.Where("job_id = ?", jobID)
	}
	err := q.Select(
		"COUNT(*) AS total, " +
			"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS succeeded, " +
			"COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0) AS failed, " +
			"COALESCE(SUM(CASE WHEN error_kind = 'rate-limit' THEN 1 ELSE 0 END), 0) AS rate_limited, " +
			"COALESCE(SUM(input_tokens), 0) AS input_tokens, " +
			"COALESCE(SUM(output_tokens), 0) AS output_tokens",
	).Scan(&out).Error
	if err != nil {
		return Counts{}, fmt.Errorf("count query failed: %w", err)
	}
	return out, nil
}
