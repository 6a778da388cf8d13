package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openguenther/guenther/pkg/models"
)

// usageTimeLayout is the SQLite datetime text format. Timestamps are
// stored in this shape so strftime can bucket them and range filters
// compare lexicographically.
const usageTimeLayout = "2006-01-02 15:04:05"

// UsageStore records per-request token consumption.
type UsageStore struct {
	db *sql.DB
}

func NewUsageStore(db *sql.DB) *UsageStore {
	return &UsageStore{db: db}
}

func usageTime(t time.Time) string {
	return t.UTC().Format(usageTimeLayout)
}

func (s *UsageStore) Append(ctx context.Context, e models.UsageEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_log (ts, provider_id, model, prompt_tokens, completion_tokens, total_tokens, chat_id, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		usageTime(e.Timestamp), e.ProviderID, e.Model, e.PromptTokens, e.CompletionTokens, e.TotalTokens,
		nullString(e.ChatID), nullString(e.Source))
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// TotalsSince aggregates all entries at or after the cutoff.
func (s *UsageStore) TotalsSince(ctx context.Context, since time.Time) (models.UsageTotals, error) {
	var t models.UsageTotals
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(prompt_tokens), 0),
		        COALESCE(SUM(completion_tokens), 0),
		        COALESCE(SUM(total_tokens), 0)
		 FROM usage_log WHERE ts >= ?`, usageTime(since))
	if err := row.Scan(&t.Requests, &t.PromptTokens, &t.CompletionTokens, &t.TotalTokens); err != nil {
		return t, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return t, nil
}

// TotalsByModel groups consumption since the cutoff by provider and model.
func (s *UsageStore) TotalsByModel(ctx context.Context, since time.Time) (map[string]models.UsageTotals, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider_id, model, COUNT(*),
		        COALESCE(SUM(prompt_tokens), 0),
		        COALESCE(SUM(completion_tokens), 0),
		        COALESCE(SUM(total_tokens), 0)
		 FROM usage_log WHERE ts >= ? GROUP BY provider_id, model`, usageTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage by model: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.UsageTotals)
	for rows.Next() {
		var provider, model string
		var t models.UsageTotals
		if err := rows.Scan(&provider, &model, &t.Requests, &t.PromptTokens, &t.CompletionTokens, &t.TotalTokens); err != nil {
			return nil, err
		}
		out[provider+"/"+model] = t
	}
	return out, rows.Err()
}

// Timeline buckets usage since the cutoff. Granularity is "hour", "day"
// or "month"; buckets without traffic are omitted.
func (s *UsageStore) Timeline(ctx context.Context, since time.Time, granularity string) ([]models.UsageBucket, error) {
	var format string
	switch granularity {
	case "hour":
		format = "%Y-%m-%d %H:00"
	case "day":
		format = "%Y-%m-%d"
	case "month":
		format = "%Y-%m"
	default:
		return nil, fmt.Errorf("unknown granularity %q", granularity)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT strftime(?, ts), COUNT(*), COALESCE(SUM(total_tokens), 0)
		 FROM usage_log WHERE ts >= ? GROUP BY 1 ORDER BY 1 ASC`, format, usageTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to build usage timeline: %w", err)
	}
	defer rows.Close()

	var buckets []models.UsageBucket
	for rows.Next() {
		var b models.UsageBucket
		if err := rows.Scan(&b.Bucket, &b.Requests, &b.TotalTokens); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// Reset deletes the entire usage log.
func (s *UsageStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM usage_log`); err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	return nil
}
