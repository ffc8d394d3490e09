package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"autoreply/internal/domain"
	"autoreply/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

const ruleColumns = `id, account_id, name, platform, is_active, priority, trigger_type, trigger_config, action_config, execution_count, created_at`

func scanRule(row pgx.Row) (domain.Rule, error) {
	var (
		r          domain.Rule
		tt         string
		trigCfg    []byte
		actionJSON []byte
	)
	err := row.Scan(&r.ID, &r.AccountID, &r.Name, &r.Platform, &r.IsActive, &r.Priority,
		&tt, &trigCfg, &actionJSON, &r.ExecutionCount, &r.CreatedAt)
	if err != nil {
		return domain.Rule{}, err
	}
	r.Trigger, err = domain.DecodeTrigger(domain.TriggerType(tt), trigCfg)
	if err != nil {
		return domain.Rule{}, err
	}
	if err := json.Unmarshal(actionJSON, &r.Action); err != nil {
		return domain.Rule{}, fmt.Errorf("action config: %w", err)
	}
	return r, nil
}

// ListActiveRules returns the active rules of one account. Rows whose trigger
// or action config cannot be decoded are skipped; they could never match.
func (s *Store) ListActiveRules(ctx context.Context, accountID string) ([]domain.Rule, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM rules WHERE account_id=$1 AND is_active
		ORDER BY priority DESC, created_at ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTrigger) || isDecodeErr(err) {
				slog.Warn("skipping undecodable rule", "account_id", accountID, "err", err)
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetRule(ctx context.Context, id string) (domain.Rule, error) {
	r, err := scanRule(s.DB.QueryRow(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id=$1`, id))
	if err != nil {
		return domain.Rule{}, notFound(err)
	}
	return r, nil
}

const accountSelect = `
	SELECT a.id, a.user_id, a.platform, a.external_id, a.name, a.access_token,
	       COALESCE(u.link_page_url, ''), a.created_at
	FROM social_accounts a JOIN users u ON u.id = a.user_id`

func scanAccount(row pgx.Row) (domain.SocialAccount, error) {
	var a domain.SocialAccount
	err := row.Scan(&a.ID, &a.UserID, &a.Platform, &a.ExternalID, &a.Name, &a.AccessToken, &a.LinkPageURL, &a.CreatedAt)
	return a, err
}

func (s *Store) GetSocialAccount(ctx context.Context, id string) (domain.SocialAccount, error) {
	a, err := scanAccount(s.DB.QueryRow(ctx, accountSelect+` WHERE a.id=$1`, id))
	if err != nil {
		return domain.SocialAccount{}, notFound(err)
	}
	return a, nil
}

func (s *Store) FindAccountByExternalID(ctx context.Context, platform domain.Platform, externalID string) (domain.SocialAccount, error) {
	a, err := scanAccount(s.DB.QueryRow(ctx, accountSelect+` WHERE a.platform=$1 AND a.external_id=$2`, platform, externalID))
	if err != nil {
		return domain.SocialAccount{}, notFound(err)
	}
	return a, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UpsertSocialAccount keeps the existing id and owner for a known
// (platform, external_id) and refreshes name and token.
func (s *Store) UpsertSocialAccount(ctx context.Context, in store.AccountUpsert) (domain.SocialAccount, error) {
	return upsertAccount(ctx, s.DB, in)
}

// UpsertSocialAccounts stores every account of one connect in a single
// transaction; either all rows are written or none.
func (s *Store) UpsertSocialAccounts(ctx context.Context, in []store.AccountUpsert) ([]domain.SocialAccount, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]domain.SocialAccount, 0, len(in))
	for _, a := range in {
		acc, err := upsertAccount(ctx, tx, a)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", a.ExternalID, err)
		}
		out = append(out, acc)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func upsertAccount(ctx context.Context, q queryRower, in store.AccountUpsert) (domain.SocialAccount, error) {
	var id string
	err := q.QueryRow(ctx, `
		INSERT INTO social_accounts (id, user_id, platform, external_id, name, access_token, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		ON CONFLICT (platform, external_id)
		DO UPDATE SET name=EXCLUDED.name, access_token=EXCLUDED.access_token, updated_at=EXCLUDED.updated_at
		RETURNING id
	`, in.ID, in.UserID, in.Platform, in.ExternalID, in.Name, in.AccessToken, in.Now).Scan(&id)
	if err != nil {
		return domain.SocialAccount{}, err
	}
	acc, err := scanAccount(q.QueryRow(ctx, accountSelect+` WHERE a.id=$1`, id))
	if err != nil {
		return domain.SocialAccount{}, notFound(err)
	}
	return acc, nil
}

func (s *Store) GetUserPlan(ctx context.Context, userID string) (domain.Plan, error) {
	var plan string
	if err := s.DB.QueryRow(ctx, `SELECT plan FROM users WHERE id=$1`, userID).Scan(&plan); err != nil {
		return "", notFound(err)
	}
	return domain.Plan(plan), nil
}

// GetMonthlyUsage returns a zero row when the month has no activity yet.
func (s *Store) GetMonthlyUsage(ctx context.Context, userID string, year, month int) (domain.MonthlyUsage, error) {
	u := domain.MonthlyUsage{UserID: userID, Year: year, Month: month}
	err := s.DB.QueryRow(ctx, `
		SELECT page_views, button_clicks, replies_sent
		FROM monthly_usage WHERE user_id=$1 AND year=$2 AND month=$3
	`, userID, year, month).Scan(&u.PageViews, &u.ButtonClicks, &u.RepliesSent)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.MonthlyUsage{}, err
	}
	return u, nil
}

func (s *Store) IncrementUsage(ctx context.Context, in store.UsageIncrement) error {
	_, err := s.DB.Exec(ctx, upsertUsageSQL, in.UserID, in.Year, in.Month, in.PageViews, in.ButtonClicks, in.RepliesSent, in.Now)
	return err
}

const upsertUsageSQL = `
	INSERT INTO monthly_usage (user_id, year, month, page_views, button_clicks, replies_sent, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (user_id, year, month)
	DO UPDATE SET page_views = monthly_usage.page_views + EXCLUDED.page_views,
	              button_clicks = monthly_usage.button_clicks + EXCLUDED.button_clicks,
	              replies_sent = monthly_usage.replies_sent + EXCLUDED.replies_sent,
	              updated_at = EXCLUDED.updated_at`

const insertLogSQL = `
	INSERT INTO rule_execution_logs (id, rule_id, account_id, external_id, trigger_data, action_taken, success, response_data, error_message, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

func logArgs(l domain.RuleExecutionLog) ([]any, error) {
	trigger, err := json.Marshal(l.TriggerData)
	if err != nil {
		return nil, err
	}
	var resp any
	if len(l.ResponseData) > 0 {
		resp = []byte(l.ResponseData)
	}
	return []any{l.ID, l.RuleID, l.AccountID, l.TriggerData.ExternalID, trigger, l.ActionTaken,
		l.Success, resp, nullIfEmpty(l.ErrorMessage), l.CreatedAt}, nil
}

// InsertExecutionLog appends a failure (or any non-deduplicated) log row.
func (s *Store) InsertExecutionLog(ctx context.Context, l domain.RuleExecutionLog) error {
	args, err := logArgs(l)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, insertLogSQL, args...)
	return err
}

func (s *Store) HasSuccessfulExecution(ctx context.Context, ruleID, externalID string) (bool, error) {
	var one int
	err := s.DB.QueryRow(ctx, `
		SELECT 1 FROM rule_execution_logs WHERE rule_id=$1 AND external_id=$2 AND success LIMIT 1
	`, ruleID, externalID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// RecordSuccess writes the success log and, only when that row is new,
// increments replies_sent and the rule's execution_count in the same
// transaction. A concurrent duplicate returns false and changes nothing.
func (s *Store) RecordSuccess(ctx context.Context, in store.SuccessRecord) (bool, error) {
	args, err := logArgs(in.Log)
	if err != nil {
		return false, err
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, insertLogSQL+` ON CONFLICT (rule_id, external_id) WHERE success DO NOTHING`, args...)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, upsertUsageSQL, in.UserID, in.Year, in.Month, 0, 0, 1, in.Log.CreatedAt); err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE rules SET execution_count = execution_count + 1, updated_at=$2 WHERE id=$1
	`, in.Log.RuleID, in.Log.CreatedAt); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func isDecodeErr(err error) bool {
	var se *json.SyntaxError
	var te *json.UnmarshalTypeError
	return errors.As(err, &se) || errors.As(err, &te)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
