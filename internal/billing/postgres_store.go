package billing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

// incrementQuery adds a delta to the stats columns of one row. Columns start
// out NULL, hence the COALESCE.
func incrementQuery(table, idColumn string) string {
	return fmt.Sprintf(`
		UPDATE %s SET
			step_cost = COALESCE(step_cost, 0) + $3,
			input_token_count = COALESCE(input_token_count, 0) + $4,
			output_token_count = COALESCE(output_token_count, 0) + $5,
			reasoning_token_count = COALESCE(reasoning_token_count, 0) + $6,
			cached_token_count = COALESCE(cached_token_count, 0) + $7
		WHERE %s = $1 AND organization_id = $2
	`, table, idColumn)
}

var (
	incrementStepQuery    = incrementQuery("steps", "step_id")
	incrementThoughtQuery = incrementQuery("thoughts", "thought_id")
)

func (s *PostgresStore) IncrementStep(ctx context.Context, stepID, organizationID string, delta StatsDelta) error {
	return s.increment(ctx, incrementStepQuery, "step", stepID, organizationID, delta)
}

func (s *PostgresStore) IncrementThought(ctx context.Context, thoughtID, organizationID string, delta StatsDelta) error {
	return s.increment(ctx, incrementThoughtQuery, "thought", thoughtID, organizationID, delta)
}

func (s *PostgresStore) increment(ctx context.Context, query, kind, id, organizationID string, delta StatsDelta) error {
	tag, err := s.db.Exec(ctx, query, id, organizationID,
		delta.Cost, delta.InputTokens, delta.OutputTokens, delta.ReasoningTokens, delta.CachedTokens)
	if err != nil {
		return fmt.Errorf("failed to increment %s stats: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s not found for organization %s", kind, id, organizationID)
	}
	return nil
}

func (s *PostgresStore) LogCall(ctx context.Context, log *CallLog) error {
	query := `
		INSERT INTO llm_calls (organization_id, run_id, llm_key, provider, model, prompt_name,
			input_tokens, output_tokens, cost_usd, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		log.OrganizationID, log.RunID, log.LLMKey, log.Provider, log.Model, log.PromptName,
		log.InputTokens, log.OutputTokens, log.CostUSD, log.LatencyMs,
	).Scan(&log.ID, &log.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to log llm call: %w", err)
	}

	return nil
}
