package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/karibu-capital/greenscore-cli/internal/audit"
	"github.com/karibu-capital/greenscore-cli/internal/db"
	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations.
var preparedStatements = map[string]string{
	"get_evidence":        `SELECT ` + evidenceColumns + ` FROM evidence WHERE id = $1`,
	"transition_evidence": `UPDATE evidence SET state = $1, updated_at = $2 WHERE id = $3 AND state = $4`,
	"latest_snapshot":     `SELECT ` + snapshotColumns + ` FROM snapshots WHERE user_id = $1 ORDER BY version DESC LIMIT 1`,
	"append_audit":        `INSERT INTO audit_log (user_id, seq, action, payload, prev_hash, hash, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"last_audit":          `SELECT user_id, seq, action, payload, prev_hash, hash, created_at FROM audit_log WHERE user_id = $1 ORDER BY seq DESC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests use this with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS evidence (
	id                  TEXT PRIMARY KEY,
	owner_id            TEXT NOT NULL,
	sector              TEXT NOT NULL,
	region              TEXT NOT NULL,
	type                TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	blob_ref            TEXT NOT NULL,
	blob_sha256         TEXT NOT NULL,
	baseline_unresolved BOOLEAN NOT NULL DEFAULT false,
	state               TEXT NOT NULL DEFAULT 'uploaded',
	attempts            INTEGER NOT NULL DEFAULT 0,
	submitted_at        TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS findings (
	evidence_id TEXT NOT NULL REFERENCES evidence(id),
	version     INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	attributes  JSONB NOT NULL DEFAULT '{}',
	quantity    DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS snapshots (
	user_id           TEXT NOT NULL,
	version           INTEGER NOT NULL,
	evidence_id       TEXT NOT NULL,
	greenscore        DOUBLE PRECISION NOT NULL,
	subscores         JSONB NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL,
	sector_percentile DOUBLE PRECISION NOT NULL DEFAULT 0,
	sector            TEXT NOT NULL DEFAULT '',
	region            TEXT NOT NULL DEFAULT '',
	explainers        JSONB NOT NULL DEFAULT '[]',
	actions           JSONB NOT NULL DEFAULT '[]',
	computed_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, version)
);

CREATE TABLE IF NOT EXISTS review_cases (
	id          TEXT PRIMARY KEY,
	evidence_id TEXT NOT NULL REFERENCES evidence(id),
	user_id     TEXT NOT NULL,
	reason      TEXT NOT NULL,
	candidate   JSONB,
	decision    TEXT NOT NULL DEFAULT 'pending',
	reviewer_id TEXT NOT NULL DEFAULT '',
	notes       TEXT NOT NULL DEFAULT '',
	opened_at   TIMESTAMPTZ NOT NULL,
	decided_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS credits (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	evidence_id TEXT NOT NULL UNIQUE,
	tonnes      DOUBLE PRECISION NOT NULL,
	standard    TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	value_usd   DOUBLE PRECISION NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	issued_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS audit_log (
	user_id    TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	action     TEXT NOT NULL,
	-- TEXT, not JSONB: the chain digest covers the exact payload bytes
	payload    TEXT NOT NULL,
	prev_hash  TEXT NOT NULL,
	hash       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_evidence_state ON evidence(state);
CREATE INDEX IF NOT EXISTS idx_evidence_owner ON evidence(owner_id);
CREATE INDEX IF NOT EXISTS idx_evidence_sha ON evidence(blob_sha256);
CREATE INDEX IF NOT EXISTS idx_findings_evidence ON findings(evidence_id, version);
CREATE INDEX IF NOT EXISTS idx_snapshots_sector ON snapshots(sector);
CREATE UNIQUE INDEX IF NOT EXISTS idx_review_open ON review_cases(evidence_id) WHERE decision = 'pending';
CREATE INDEX IF NOT EXISTS idx_review_decision ON review_cases(decision);
CREATE INDEX IF NOT EXISTS idx_credits_user ON credits(user_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Evidence

func (s *PostgresStore) CreateEvidence(ctx context.Context, ev *model.Evidence) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO evidence (id, owner_id, sector, region, type, description, blob_ref, blob_sha256, baseline_unresolved, state, attempts, submitted_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ev.ID, ev.OwnerID, ev.Sector, ev.Region, string(ev.Type), ev.Description,
		ev.BlobRef, ev.BlobSHA256, ev.BaselineUnresolved, string(ev.State),
		ev.Attempts, ev.SubmittedAt, ev.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert evidence")
}

func (s *PostgresStore) GetEvidence(ctx context.Context, id string) (*model.Evidence, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+evidenceColumns+` FROM evidence WHERE id = $1`, id)
	return scanEvidencePG(row)
}

func (s *PostgresStore) ListEvidence(ctx context.Context, filter EvidenceFilter) ([]model.Evidence, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence WHERE true`
	args := []any{}
	argIdx := 1

	if filter.OwnerID != "" {
		query += fmt.Sprintf(` AND owner_id = $%d`, argIdx)
		args = append(args, filter.OwnerID)
		argIdx++
	}
	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	query += ` ORDER BY submitted_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list evidence")
	}
	defer rows.Close()

	var evs []model.Evidence
	for rows.Next() {
		ev, err := scanEvidencePG(rows)
		if err != nil {
			return nil, err
		}
		evs = append(evs, *ev)
	}
	return evs, eris.Wrap(rows.Err(), "postgres: list evidence iterate")
}

func (s *PostgresStore) TransitionEvidence(ctx context.Context, id string, from, to model.EvidenceState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE evidence SET state = $1, updated_at = $2 WHERE id = $3 AND state = $4`,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition evidence %s", id)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetEvidence(ctx, id); getErr != nil {
			return getErr
		}
		return model.ErrConcurrencyConflict
	}
	return nil
}

func (s *PostgresStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx,
		`UPDATE evidence SET attempts = attempts + 1, updated_at = $1 WHERE id = $2 RETURNING attempts`,
		time.Now().UTC(), id,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, eris.Wrapf(model.ErrNotFound, "evidence %s", id)
	}
	return attempts, eris.Wrapf(err, "postgres: increment attempts %s", id)
}

func (s *PostgresStore) CountByBlobSHA(ctx context.Context, sha256, excludeOwner string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM evidence WHERE blob_sha256 = $1 AND owner_id != $2`,
		sha256, excludeOwner,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count by blob sha")
}

func (s *PostgresStore) ClaimQueued(ctx context.Context) (*model.Evidence, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE evidence SET state = $1, updated_at = $2
		 WHERE id = (
			SELECT id FROM evidence WHERE state = $3
			ORDER BY submitted_at LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+evidenceColumns,
		string(model.EvidenceStateExtracting), time.Now().UTC(), string(model.EvidenceStateQueued),
	)
	ev, err := scanEvidencePG(row)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return ev, nil
}

// RequeueStale returns mid-flight evidence to the queue after its worker
// stopped reporting progress.
func (s *PostgresStore) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		`UPDATE evidence SET state = $1, updated_at = $2 WHERE state IN ($3, $4) AND updated_at < $5`,
		string(model.EvidenceStateQueued), time.Now().UTC(),
		string(model.EvidenceStateExtracting), string(model.EvidenceStateExtractingDone), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: requeue stale")
	}
	return int(tag.RowsAffected()), nil
}

// Findings

func (s *PostgresStore) PutFindings(ctx context.Context, evidenceID string, version int, findings []model.ExtractionFinding) error {
	rows := make([][]any, 0, len(findings))
	for _, f := range findings {
		attrs, err := json.Marshal(f.Attributes)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal attributes")
		}
		rows = append(rows, []any{evidenceID, version, string(f.Kind), attrs, f.Quantity, f.Confidence})
	}

	_, err := db.CopyFrom(ctx, s.pool, "findings",
		[]string{"evidence_id", "version", "kind", "attributes", "quantity", "confidence"}, rows)
	return eris.Wrapf(err, "postgres: put findings for %s", evidenceID)
}

func (s *PostgresStore) GetFindings(ctx context.Context, evidenceID string) ([]model.ExtractionFinding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT evidence_id, version, kind, attributes, quantity, confidence FROM findings
		 WHERE evidence_id = $1 AND version = (SELECT MAX(version) FROM findings WHERE evidence_id = $1)`,
		evidenceID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get findings")
	}
	defer rows.Close()

	var out []model.ExtractionFinding
	for rows.Next() {
		var f model.ExtractionFinding
		var attrs []byte
		if err := rows.Scan(&f.EvidenceID, &f.Version, &f.Kind, &attrs, &f.Quantity, &f.Confidence); err != nil {
			return nil, eris.Wrap(err, "postgres: scan finding")
		}
		if err := json.Unmarshal(attrs, &f.Attributes); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal attributes")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: findings iterate")
}

// Snapshots

func (s *PostgresStore) LatestSnapshot(ctx context.Context, userID string) (*model.GreenScoreSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE user_id = $1 ORDER BY version DESC LIMIT 1`,
		userID,
	)
	snap, err := scanSnapshotPG(row)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return snap, nil
}

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap model.GreenScoreSnapshot) error {
	subs, err := json.Marshal(snap.Subscores)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal subscores")
	}
	expl, err := json.Marshal(snap.Explainers)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal explainers")
	}
	acts, err := json.Marshal(snap.Actions)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal actions")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO snapshots (`+snapshotColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		snap.UserID, snap.Version, snap.EvidenceID, snap.GreenScore, subs,
		snap.Confidence, snap.SectorPercentile, snap.Sector, snap.Region,
		expl, acts, snap.ComputedAt,
	)
	if isPGUnique(err) {
		return model.ErrConcurrencyConflict
	}
	return eris.Wrap(err, "postgres: insert snapshot")
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, userID string, limit int) ([]model.GreenScoreSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE user_id = $1 ORDER BY version DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	var out []model.GreenScoreSnapshot
	for rows.Next() {
		snap, err := scanSnapshotPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "postgres: snapshots iterate")
}

func (s *PostgresStore) SectorScores(ctx context.Context, sector, region string) ([]UserScore, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.user_id, s.greenscore FROM snapshots s
		 WHERE s.sector = $1 AND s.region = $2 AND s.version = (SELECT MAX(version) FROM snapshots WHERE user_id = s.user_id)
		 ORDER BY s.user_id`,
		sector, region,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: sector scores")
	}
	defer rows.Close()

	var out []UserScore
	for rows.Next() {
		var us UserScore
		if err := rows.Scan(&us.UserID, &us.Score); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sector score")
		}
		out = append(out, us)
	}
	return out, eris.Wrap(rows.Err(), "postgres: sector scores iterate")
}

// Review cases

func (s *PostgresStore) OpenReviewCase(ctx context.Context, rc model.ReviewCase) (*model.ReviewCase, error) {
	if rc.ID == "" {
		rc.ID = uuid.New().String()
	}
	if rc.Decision == "" {
		rc.Decision = model.ReviewPending
	}
	if rc.OpenedAt.IsZero() {
		rc.OpenedAt = time.Now().UTC()
	}

	var candidate []byte
	if rc.Candidate != nil {
		b, err := json.Marshal(rc.Candidate)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal candidate")
		}
		candidate = b
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO review_cases (id, evidence_id, user_id, reason, candidate, decision, reviewer_id, notes, opened_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rc.ID, rc.EvidenceID, rc.UserID, string(rc.Reason), candidate,
		string(rc.Decision), rc.ReviewerID, rc.Notes, rc.OpenedAt,
	)
	if isPGUnique(err) {
		row := s.pool.QueryRow(ctx,
			`SELECT `+reviewColumns+` FROM review_cases WHERE evidence_id = $1 AND decision = 'pending'`,
			rc.EvidenceID,
		)
		return scanReviewCasePG(row)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert review case")
	}
	return &rc, nil
}

func (s *PostgresStore) GetReviewCase(ctx context.Context, id string) (*model.ReviewCase, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+reviewColumns+` FROM review_cases WHERE id = $1`, id)
	return scanReviewCasePG(row)
}

func (s *PostgresStore) ListReviewCases(ctx context.Context, filter model.ReviewFilter) ([]model.ReviewCase, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_cases WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Decision != "" {
		query += fmt.Sprintf(` AND decision = $%d`, argIdx)
		args = append(args, string(filter.Decision))
		argIdx++
	}
	if filter.Reason != "" {
		query += fmt.Sprintf(` AND reason = $%d`, argIdx)
		args = append(args, string(filter.Reason))
		argIdx++
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	query += ` ORDER BY opened_at`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review cases")
	}
	defer rows.Close()

	var out []model.ReviewCase
	for rows.Next() {
		rc, err := scanReviewCasePG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: review cases iterate")
}

func (s *PostgresStore) DecideReviewCase(ctx context.Context, id string, decision model.ReviewDecision, reviewerID, notes string) (*model.ReviewCase, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_cases SET decision = $1, reviewer_id = $2, notes = $3, decided_at = $4
		 WHERE id = $5 AND decision = 'pending'`,
		string(decision), reviewerID, notes, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: decide review case %s", id)
	}
	if tag.RowsAffected() == 0 {
		rc, getErr := s.GetReviewCase(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if rc.Decision.Decided() {
			return nil, model.ErrCaseDecided
		}
		return nil, eris.Wrapf(model.ErrNotFound, "review case %s", id)
	}
	return s.GetReviewCase(ctx, id)
}

// Credits

func (s *PostgresStore) CreateCredit(ctx context.Context, rec model.CarbonCreditRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO credits (id, user_id, evidence_id, tonnes, standard, status, value_usd, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (evidence_id) DO NOTHING`,
		rec.ID, rec.UserID, rec.EvidenceID, rec.Tonnes, rec.Standard,
		string(rec.Status), rec.ValueUSD, rec.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert credit")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) MarkCreditIssued(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE credits SET status = $1, issued_at = $2 WHERE id = $3 AND status = $4`,
		string(model.CreditIssued), time.Now().UTC(), id, string(model.CreditPending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark credit issued %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "credit %s", id)
	}
	return nil
}

func (s *PostgresStore) ListCredits(ctx context.Context, userID string) ([]model.CarbonCreditRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, evidence_id, tonnes, standard, status, value_usd, created_at, issued_at
		 FROM credits WHERE user_id = $1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list credits")
	}
	defer rows.Close()

	var out []model.CarbonCreditRecord
	for rows.Next() {
		var rec model.CarbonCreditRecord
		var issued *time.Time
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.EvidenceID, &rec.Tonnes,
			&rec.Standard, &rec.Status, &rec.ValueUSD, &rec.CreatedAt, &issued); err != nil {
			return nil, eris.Wrap(err, "postgres: scan credit")
		}
		rec.IssuedAt = issued
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: credits iterate")
}

// Audit log

func (s *PostgresStore) AppendAudit(ctx context.Context, e audit.Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (user_id, seq, action, payload, prev_hash, hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.UserID, e.Seq, e.Action, string(e.Payload), e.PrevHash, e.Hash, e.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append audit")
}

func (s *PostgresStore) LastAudit(ctx context.Context, userID string) (*audit.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, seq, action, payload, prev_hash, hash, created_at
		 FROM audit_log WHERE user_id = $1 ORDER BY seq DESC LIMIT 1`,
		userID,
	)
	e, err := scanAuditPG(row)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, userID string) ([]audit.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, seq, action, payload, prev_hash, hash, created_at
		 FROM audit_log WHERE user_id = $1 ORDER BY seq`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		e, err := scanAuditPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: audit iterate")
}

// helpers

func isPGUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, model.ErrNotFound)
}

func scanEvidencePG(row pgx.Row) (*model.Evidence, error) {
	var ev model.Evidence
	var typ, state string

	err := row.Scan(&ev.ID, &ev.OwnerID, &ev.Sector, &ev.Region, &typ,
		&ev.Description, &ev.BlobRef, &ev.BlobSHA256, &ev.BaselineUnresolved,
		&state, &ev.Attempts, &ev.SubmittedAt, &ev.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(model.ErrNotFound, "evidence")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan evidence")
	}
	ev.Type = model.EvidenceType(typ)
	ev.State = model.EvidenceState(state)
	return &ev, nil
}

func scanSnapshotPG(row pgx.Row) (*model.GreenScoreSnapshot, error) {
	var snap model.GreenScoreSnapshot
	var subs, expl, acts []byte

	err := row.Scan(&snap.UserID, &snap.Version, &snap.EvidenceID, &snap.GreenScore,
		&subs, &snap.Confidence, &snap.SectorPercentile, &snap.Sector, &snap.Region,
		&expl, &acts, &snap.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan snapshot")
	}

	if err := json.Unmarshal(subs, &snap.Subscores); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal subscores")
	}
	if err := json.Unmarshal(expl, &snap.Explainers); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal explainers")
	}
	if err := json.Unmarshal(acts, &snap.Actions); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal actions")
	}
	return &snap, nil
}

func scanReviewCasePG(row pgx.Row) (*model.ReviewCase, error) {
	var rc model.ReviewCase
	var reason, decision string
	var candidate []byte
	var decided *time.Time

	err := row.Scan(&rc.ID, &rc.EvidenceID, &rc.UserID, &reason, &candidate,
		&decision, &rc.ReviewerID, &rc.Notes, &rc.OpenedAt, &decided)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(model.ErrNotFound, "review case")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan review case")
	}
	rc.Reason = model.ReviewReason(reason)
	rc.Decision = model.ReviewDecision(decision)
	rc.DecidedAt = decided

	if len(candidate) > 0 {
		rc.Candidate = &model.GreenScoreSnapshot{}
		if err := json.Unmarshal(candidate, rc.Candidate); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal candidate")
		}
	}
	return &rc, nil
}

func scanAuditPG(row pgx.Row) (*audit.Entry, error) {
	var e audit.Entry
	var payload string

	err := row.Scan(&e.UserID, &e.Seq, &e.Action, &payload, &e.PrevHash, &e.Hash, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan audit entry")
	}
	e.Payload = []byte(payload)
	return &e, nil
}
