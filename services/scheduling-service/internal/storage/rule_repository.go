package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pracsuite/pracsuite/libs/db"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/rules"
)

// RuleRepository persists scheduling rules. The logic payload is
// stored as jsonb; rows are validated before they reach the table.
type RuleRepository struct {
	pool *db.Pool
}

func NewRuleRepository(pool *db.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

func (r *RuleRepository) List(ctx context.Context, orgID string) ([]rules.Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, org_id, name, category, priority, active, review_status, review_issues,
			reviewed_at, logic, created_at
		FROM scheduling_rules
		WHERE org_id = $1
		ORDER BY priority DESC, id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var rule rules.Rule
		var logic []byte
		var reviewedAt *time.Time
		if err := rows.Scan(&rule.ID, &rule.OrgID, &rule.Name, &rule.Category, &rule.Priority,
			&rule.Active, &rule.ReviewStatus, &rule.ReviewIssues, &reviewedAt, &logic, &rule.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(logic, &rule.Logic); err != nil {
			return nil, err
		}
		rule.ReviewedAt = reviewedAt
		out = append(out, rule)
	}
	return out, rows.Err()
}

// Save validates before writing so malformed payloads never reach the
// matcher.
func (r *RuleRepository) Save(ctx context.Context, rule rules.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	logic, err := json.Marshal(rule.Logic)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO scheduling_rules
			(id, org_id, name, category, priority, active, review_status, review_issues, reviewed_at, logic, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			priority = EXCLUDED.priority,
			active = EXCLUDED.active,
			review_status = EXCLUDED.review_status,
			review_issues = EXCLUDED.review_issues,
			reviewed_at = EXCLUDED.reviewed_at,
			logic = EXCLUDED.logic
	`, rule.ID, rule.OrgID, rule.Name, rule.Category, rule.Priority, rule.Active,
		rule.ReviewStatus, rule.ReviewIssues, rule.ReviewedAt, logic, rule.CreatedAt)
	return err
}

// SetReviewStatus records an administrator's decision on a flagged
// rule.
func (r *RuleRepository) SetReviewStatus(ctx context.Context, orgID, ruleID string, status rules.ReviewStatus, issues []string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduling_rules
		SET review_status = $3,
			review_issues = $4,
			reviewed_at = $5
		WHERE id = $1 AND org_id = $2
	`, ruleID, orgID, status, issues, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
