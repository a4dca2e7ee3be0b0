package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/karibu-capital/greenscore-cli/internal/audit"
	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS evidence (
	id                  TEXT PRIMARY KEY,
	owner_id            TEXT NOT NULL,
	sector              TEXT NOT NULL,
	region              TEXT NOT NULL,
	type                TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	blob_ref            TEXT NOT NULL,
	blob_sha256         TEXT NOT NULL,
	baseline_unresolved INTEGER NOT NULL DEFAULT 0,
	state               TEXT NOT NULL DEFAULT 'uploaded',
	attempts            INTEGER NOT NULL DEFAULT 0,
	submitted_at        DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS findings (
	evidence_id TEXT NOT NULL REFERENCES evidence(id),
	version     INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	attributes  TEXT NOT NULL DEFAULT '{}',
	quantity    REAL NOT NULL DEFAULT 0,
	confidence  REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS snapshots (
	user_id           TEXT NOT NULL,
	version           INTEGER NOT NULL,
	evidence_id       TEXT NOT NULL,
	greenscore        REAL NOT NULL,
	subscores         TEXT NOT NULL,
	confidence        REAL NOT NULL,
	sector_percentile REAL NOT NULL DEFAULT 0,
	sector            TEXT NOT NULL DEFAULT '',
	region            TEXT NOT NULL DEFAULT '',
	explainers        TEXT NOT NULL DEFAULT '[]',
	actions           TEXT NOT NULL DEFAULT '[]',
	computed_at       DATETIME NOT NULL,
	PRIMARY KEY (user_id, version)
);

CREATE TABLE IF NOT EXISTS review_cases (
	id          TEXT PRIMARY KEY,
	evidence_id TEXT NOT NULL REFERENCES evidence(id),
	user_id     TEXT NOT NULL,
	reason      TEXT NOT NULL,
	candidate   TEXT,
	decision    TEXT NOT NULL DEFAULT 'pending',
	reviewer_id TEXT NOT NULL DEFAULT '',
	notes       TEXT NOT NULL DEFAULT '',
	opened_at   DATETIME NOT NULL,
	decided_at  DATETIME
);

CREATE TABLE IF NOT EXISTS credits (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	evidence_id TEXT NOT NULL UNIQUE,
	tonnes      REAL NOT NULL,
	standard    TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	value_usd   REAL NOT NULL,
	created_at  DATETIME NOT NULL,
	issued_at   DATETIME
);

CREATE TABLE IF NOT EXISTS audit_log (
	user_id    TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	action     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	prev_hash  TEXT NOT NULL,
	hash       TEXT NOT NULL,
	created_at DATETIME NOT NULL,
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Evidence

func (s *SQLiteStore) CreateEvidence(ctx context.Context, ev *model.Evidence) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evidence (id, owner_id, sector, region, type, description, blob_ref, blob_sha256, baseline_unresolved, state, attempts, submitted_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.OwnerID, ev.Sector, ev.Region, string(ev.Type), ev.Description,
		ev.BlobRef, ev.BlobSHA256, boolToInt(ev.BaselineUnresolved), string(ev.State),
		ev.Attempts, ev.SubmittedAt, ev.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert evidence")
}

const evidenceColumns = `id, owner_id, sector, region, type, description, blob_ref, blob_sha256, baseline_unresolved, state, attempts, submitted_at, updated_at`

func (s *SQLiteStore) GetEvidence(ctx context.Context, id string) (*model.Evidence, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+evidenceColumns+` FROM evidence WHERE id = ?`, id)
	return scanEvidence(row)
}

func (s *SQLiteStore) ListEvidence(ctx context.Context, filter EvidenceFilter) ([]model.Evidence, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence WHERE 1=1`
	var args []any

	if filter.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY submitted_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list evidence")
	}
	defer rows.Close()

	var evs []model.Evidence
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		evs = append(evs, *ev)
	}
	return evs, eris.Wrap(rows.Err(), "sqlite: list evidence iterate")
}

func (s *SQLiteStore) TransitionEvidence(ctx context.Context, id string, from, to model.EvidenceState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE evidence SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition evidence %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		if _, getErr := s.GetEvidence(ctx, id); getErr != nil {
			return getErr
		}
		return model.ErrConcurrencyConflict
	}
	return nil
}

func (s *SQLiteStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE evidence SET attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: increment attempts %s", id)
	}
	if err := checkRowsAffected(res, "evidence", id); err != nil {
		return 0, err
	}

	var attempts int
	err = s.db.QueryRowContext(ctx, `SELECT attempts FROM evidence WHERE id = ?`, id).Scan(&attempts)
	return attempts, eris.Wrapf(err, "sqlite: read attempts %s", id)
}

func (s *SQLiteStore) CountByBlobSHA(ctx context.Context, sha256, excludeOwner string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evidence WHERE blob_sha256 = ? AND owner_id != ?`,
		sha256, excludeOwner,
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count by blob sha")
}

// ClaimQueued selects the oldest queued record, then compare-and-swaps it
// into extracting. A lost race just retries on the next candidate.
func (s *SQLiteStore) ClaimQueued(ctx context.Context) (*model.Evidence, error) {
	for attempt := 0; attempt < 3; attempt++ {
		var id string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM evidence WHERE state = ? ORDER BY submitted_at LIMIT 1`,
			string(model.EvidenceStateQueued),
		).Scan(&id)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: select queued")
		}

		res, err := s.db.ExecContext(ctx,
			`UPDATE evidence SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
			string(model.EvidenceStateExtracting), time.Now().UTC(), id, string(model.EvidenceStateQueued),
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: claim %s", id)
		}
		if n, err := res.RowsAffected(); err != nil {
			return nil, eris.Wrap(err, "sqlite: rows affected")
		} else if n == 1 {
			return s.GetEvidence(ctx, id)
		}
	}
	return nil, nil
}

// RequeueStale returns mid-flight evidence to the queue after its worker
// stopped reporting progress.
func (s *SQLiteStore) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`UPDATE evidence SET state = ?, updated_at = ? WHERE state IN (?, ?) AND updated_at < ?`,
		string(model.EvidenceStateQueued), time.Now().UTC(),
		string(model.EvidenceStateExtracting), string(model.EvidenceStateExtractingDone), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: requeue stale")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// Findings

func (s *SQLiteStore) PutFindings(ctx context.Context, evidenceID string, version int, findings []model.ExtractionFinding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	for _, f := range findings {
		attrs, err := json.Marshal(f.Attributes)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal attributes")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO findings (evidence_id, version, kind, attributes, quantity, confidence) VALUES (?, ?, ?, ?, ?, ?)`,
			evidenceID, version, string(f.Kind), string(attrs), f.Quantity, f.Confidence,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert finding for %s", evidenceID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit findings")
}

func (s *SQLiteStore) GetFindings(ctx context.Context, evidenceID string) ([]model.ExtractionFinding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT evidence_id, version, kind, attributes, quantity, confidence FROM findings
		 WHERE evidence_id = ? AND version = (SELECT MAX(version) FROM findings WHERE evidence_id = ?)`,
		evidenceID, evidenceID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get findings")
	}
	defer rows.Close()

	var out []model.ExtractionFinding
	for rows.Next() {
		var f model.ExtractionFinding
		var attrs string
		if err := rows.Scan(&f.EvidenceID, &f.Version, &f.Kind, &attrs, &f.Quantity, &f.Confidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan finding")
		}
		if err := json.Unmarshal([]byte(attrs), &f.Attributes); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal attributes")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: findings iterate")
}

// Snapshots

const snapshotColumns = `user_id, version, evidence_id, greenscore, subscores, confidence, sector_percentile, sector, region, explainers, actions, computed_at`

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, userID string) (*model.GreenScoreSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE user_id = ? ORDER BY version DESC LIMIT 1`,
		userID,
	)
	snap, err := scanSnapshot(row)
	if err == errSnapshotNotFound {
		return nil, nil
	}
	return snap, err
}

func (s *SQLiteStore) InsertSnapshot(ctx context.Context, snap model.GreenScoreSnapshot) error {
	subs, err := json.Marshal(snap.Subscores)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal subscores")
	}
	expl, err := json.Marshal(snap.Explainers)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal explainers")
	}
	acts, err := json.Marshal(snap.Actions)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal actions")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.UserID, snap.Version, snap.EvidenceID, snap.GreenScore, string(subs),
		snap.Confidence, snap.SectorPercentile, snap.Sector, snap.Region,
		string(expl), string(acts), snap.ComputedAt,
	)
	if isSQLiteUnique(err) {
		return model.ErrConcurrencyConflict
	}
	return eris.Wrap(err, "sqlite: insert snapshot")
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, userID string, limit int) ([]model.GreenScoreSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE user_id = ? ORDER BY version DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close()

	var out []model.GreenScoreSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: snapshots iterate")
}

func (s *SQLiteStore) SectorScores(ctx context.Context, sector, region string) ([]UserScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.user_id, s.greenscore FROM snapshots s
		 WHERE s.sector = ? AND s.region = ? AND s.version = (SELECT MAX(version) FROM snapshots WHERE user_id = s.user_id)
		 ORDER BY s.user_id`,
		sector, region,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: sector scores")
	}
	defer rows.Close()

	var out []UserScore
	for rows.Next() {
		var us UserScore
		if err := rows.Scan(&us.UserID, &us.Score); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sector score")
		}
		out = append(out, us)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: sector scores iterate")
}

// Review cases

func (s *SQLiteStore) OpenReviewCase(ctx context.Context, rc model.ReviewCase) (*model.ReviewCase, error) {
	if rc.ID == "" {
		rc.ID = uuid.New().String()
	}
	if rc.Decision == "" {
		rc.Decision = model.ReviewPending
	}
	if rc.OpenedAt.IsZero() {
		rc.OpenedAt = time.Now().UTC()
	}

	var candidate any
	if rc.Candidate != nil {
		b, err := json.Marshal(rc.Candidate)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal candidate")
		}
		candidate = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_cases (id, evidence_id, user_id, reason, candidate, decision, reviewer_id, notes, opened_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rc.ID, rc.EvidenceID, rc.UserID, string(rc.Reason), candidate,
		string(rc.Decision), rc.ReviewerID, rc.Notes, rc.OpenedAt,
	)
	if isSQLiteUnique(err) {
		// An open case already exists for this evidence; reuse it.
		return s.openCaseForEvidence(ctx, rc.EvidenceID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert review case")
	}
	return &rc, nil
}

func (s *SQLiteStore) openCaseForEvidence(ctx context.Context, evidenceID string) (*model.ReviewCase, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM review_cases WHERE evidence_id = ? AND decision = 'pending'`,
		evidenceID,
	)
	return scanReviewCase(row)
}

const reviewColumns = `id, evidence_id, user_id, reason, candidate, decision, reviewer_id, notes, opened_at, decided_at`

func (s *SQLiteStore) GetReviewCase(ctx context.Context, id string) (*model.ReviewCase, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM review_cases WHERE id = ?`, id)
	return scanReviewCase(row)
}

func (s *SQLiteStore) ListReviewCases(ctx context.Context, filter model.ReviewFilter) ([]model.ReviewCase, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_cases WHERE 1=1`
	var args []any

	if filter.Decision != "" {
		query += ` AND decision = ?`
		args = append(args, string(filter.Decision))
	}
	if filter.Reason != "" {
		query += ` AND reason = ?`
		args = append(args, string(filter.Reason))
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	query += ` ORDER BY opened_at`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review cases")
	}
	defer rows.Close()

	var out []model.ReviewCase
	for rows.Next() {
		rc, err := scanReviewCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: review cases iterate")
}

func (s *SQLiteStore) DecideReviewCase(ctx context.Context, id string, decision model.ReviewDecision, reviewerID, notes string) (*model.ReviewCase, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_cases SET decision = ?, reviewer_id = ?, notes = ?, decided_at = ?
		 WHERE id = ? AND decision = 'pending'`,
		string(decision), reviewerID, notes, now, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: decide review case %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
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

func (s *SQLiteStore) CreateCredit(ctx context.Context, rec model.CarbonCreditRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO credits (id, user_id, evidence_id, tonnes, standard, status, value_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (evidence_id) DO NOTHING`,
		rec.ID, rec.UserID, rec.EvidenceID, rec.Tonnes, rec.Standard,
		string(rec.Status), rec.ValueUSD, rec.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert credit")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) MarkCreditIssued(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credits SET status = ?, issued_at = ? WHERE id = ? AND status = ?`,
		string(model.CreditIssued), time.Now().UTC(), id, string(model.CreditPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark credit issued %s", id)
	}
	return checkRowsAffected(res, "credit", id)
}

func (s *SQLiteStore) ListCredits(ctx context.Context, userID string) ([]model.CarbonCreditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, evidence_id, tonnes, standard, status, value_usd, created_at, issued_at
		 FROM credits WHERE user_id = ? ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list credits")
	}
	defer rows.Close()

	var out []model.CarbonCreditRecord
	for rows.Next() {
		var rec model.CarbonCreditRecord
		var issued sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.EvidenceID, &rec.Tonnes,
			&rec.Standard, &rec.Status, &rec.ValueUSD, &rec.CreatedAt, &issued); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan credit")
		}
		if issued.Valid {
			t := issued.Time
			rec.IssuedAt = &t
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: credits iterate")
}

// Audit log

func (s *SQLiteStore) AppendAudit(ctx context.Context, e audit.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (user_id, seq, action, payload, prev_hash, hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Seq, e.Action, string(e.Payload), e.PrevHash, e.Hash, e.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append audit")
}

func (s *SQLiteStore) LastAudit(ctx context.Context, userID string) (*audit.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, seq, action, payload, prev_hash, hash, created_at
		 FROM audit_log WHERE user_id = ? ORDER BY seq DESC LIMIT 1`,
		userID,
	)
	e, err := scanAudit(row)
	if err == errAuditNotFound {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStore) ListAudit(ctx context.Context, userID string) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, seq, action, payload, prev_hash, hash, created_at
		 FROM audit_log WHERE user_id = ? ORDER BY seq`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: audit iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEvidence(row scannable) (*model.Evidence, error) {
	var ev model.Evidence
	var unresolved int

	err := row.Scan(&ev.ID, &ev.OwnerID, &ev.Sector, &ev.Region, &ev.Type,
		&ev.Description, &ev.BlobRef, &ev.BlobSHA256, &unresolved, &ev.State,
		&ev.Attempts, &ev.SubmittedAt, &ev.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(model.ErrNotFound, "evidence")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan evidence")
	}
	ev.BaselineUnresolved = unresolved != 0
	return &ev, nil
}

var errSnapshotNotFound = eris.New("snapshot not found")

func scanSnapshot(row scannable) (*model.GreenScoreSnapshot, error) {
	var snap model.GreenScoreSnapshot
	var subs, expl, acts string

	err := row.Scan(&snap.UserID, &snap.Version, &snap.EvidenceID, &snap.GreenScore,
		&subs, &snap.Confidence, &snap.SectorPercentile, &snap.Sector, &snap.Region,
		&expl, &acts, &snap.ComputedAt)
	if err == sql.ErrNoRows {
		return nil, errSnapshotNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan snapshot")
	}

	if err := json.Unmarshal([]byte(subs), &snap.Subscores); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal subscores")
	}
	if err := json.Unmarshal([]byte(expl), &snap.Explainers); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal explainers")
	}
	if err := json.Unmarshal([]byte(acts), &snap.Actions); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal actions")
	}
	return &snap, nil
}

func scanReviewCase(row scannable) (*model.ReviewCase, error) {
	var rc model.ReviewCase
	var candidate sql.NullString
	var decided sql.NullTime

	err := row.Scan(&rc.ID, &rc.EvidenceID, &rc.UserID, &rc.Reason, &candidate,
		&rc.Decision, &rc.ReviewerID, &rc.Notes, &rc.OpenedAt, &decided)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(model.ErrNotFound, "review case")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan review case")
	}

	if candidate.Valid && candidate.String != "" {
		rc.Candidate = &model.GreenScoreSnapshot{}
		if err := json.Unmarshal([]byte(candidate.String), rc.Candidate); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal candidate")
		}
	}
	if decided.Valid {
		t := decided.Time
		rc.DecidedAt = &t
	}
	return &rc, nil
}

var errAuditNotFound = eris.New("audit entry not found")

func scanAudit(row scannable) (*audit.Entry, error) {
	var e audit.Entry
	var payload string

	err := row.Scan(&e.UserID, &e.Seq, &e.Action, &payload, &e.PrevHash, &e.Hash, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errAuditNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan audit entry")
	}
	e.Payload = []byte(payload)
	return &e, nil
}
