package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Unassigned mirrors labels.Unassigned; the store compares against it
// directly so the SQL stays readable.
const unassigned = "N/A"

var (
	// ErrAlreadyOpen means open was called for an (item, annotator) pair that
	// already has an entry. Callers are expected to check first; reaching
	// this is a programming error, not a user-facing condition.
	ErrAlreadyOpen = errors.New("judgment entry already exists for item and annotator")

	// ErrNoOpenEntry means a close or claim referenced a pair with no open entry.
	ErrNoOpenEntry = errors.New("no open judgment entry for item and annotator")
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- annotators ----

const annotatorColumns = `id, email, passcode_hash, role, activated, valid_until, max_judgments, created_at`

func scanAnnotator(row *sql.Row) (Annotator, error) {
	var a Annotator
	err := row.Scan(&a.ID, &a.Email, &a.PasscodeHash, &a.Role, &a.Activated, &a.ValidUntil, &a.MaxJudgments, &a.CreatedAt)
	if err != nil {
		return Annotator{}, err
	}
	return a, nil
}

func (s *PostgresStore) GetAnnotator(ctx context.Context, id string) (Annotator, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+annotatorColumns+` FROM annotators WHERE id=$1`, id)
	return scanAnnotator(row)
}

func (s *PostgresStore) GetAnnotatorByEmail(ctx context.Context, email string) (Annotator, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+annotatorColumns+` FROM annotators WHERE email=$1`, email)
	return scanAnnotator(row)
}

func (s *PostgresStore) ListAnnotators(ctx context.Context) ([]Annotator, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+annotatorColumns+` FROM annotators ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list annotators: %w", err)
	}
	defer rows.Close()

	var annotators []Annotator
	for rows.Next() {
		var a Annotator
		if err := rows.Scan(&a.ID, &a.Email, &a.PasscodeHash, &a.Role, &a.Activated, &a.ValidUntil, &a.MaxJudgments, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan annotator: %w", err)
		}
		annotators = append(annotators, a)
	}
	return annotators, rows.Err()
}

func (s *PostgresStore) InsertAnnotator(ctx context.Context, a Annotator) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO annotators (id, email, passcode_hash, role, activated, valid_until, max_judgments)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.Email, a.PasscodeHash, a.Role, a.Activated, a.ValidUntil, a.MaxJudgments)
	if err != nil {
		return fmt.Errorf("insert annotator: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetAnnotatorRole(ctx context.Context, id, role string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE annotators SET role=$2 WHERE id=$1`, id, role)
	if err != nil {
		return fmt.Errorf("set annotator role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set annotator role: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- sessions ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, annotator Annotator, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, annotator_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET annotator_id=EXCLUDED.annotator_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, annotator.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Annotator, error) {
	const query = `
		SELECT a.id, a.email, a.passcode_hash, a.role, a.activated, a.valid_until, a.max_judgments, a.created_at
		FROM refresh_sessions rs
		JOIN annotators a ON a.id = rs.annotator_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	row := s.db.QueryRowContext(ctx, query, tokenHash)
	return scanAnnotator(row)
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- items ----

const itemColumns = `i.id, COALESCE(i.author_id, ''), COALESCE(au.username, ''), i.content, i.web_url, i.media_file,
	i.play_count, i.share_count, i.comment_count, i.duration, i.posted_at, i.created_at`

const itemFrom = `items i LEFT JOIN authors au ON au.id = i.author_id`

func scanItem(scanner interface{ Scan(...any) error }) (Item, error) {
	var item Item
	err := scanner.Scan(&item.ID, &item.AuthorID, &item.Username, &item.Content, &item.WebURL, &item.MediaFile,
		&item.PlayCount, &item.ShareCount, &item.CommentCount, &item.Duration, &item.PostedAt, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM `+itemFrom+` WHERE i.id=$1`, id)
	return scanItem(row)
}

func (s *PostgresStore) InsertAuthor(ctx context.Context, author Author) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authors (id, username)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET username=EXCLUDED.username
	`, author.ID, author.Username)
	if err != nil {
		return fmt.Errorf("insert author: %w", err)
	}
	return nil
}

// InsertItem inserts the item and reports whether a row was written; an
// already-known id is a no-op.
func (s *PostgresStore) InsertItem(ctx context.Context, item Item) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, author_id, content, web_url, media_file, play_count, share_count, comment_count, duration, posted_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.AuthorID, item.Content, item.WebURL, item.MediaFile,
		item.PlayCount, item.ShareCount, item.CommentCount, item.Duration, item.PostedAt)
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}
	return n > 0, nil
}

// AssignableItems returns the two disjoint candidate sets for assignment:
// items with no judgment rows at all, and items with exactly one row that
// does not belong to excludeAnnotator.
func (s *PostgresStore) AssignableItems(ctx context.Context, excludeAnnotator string) (neverSeen, seenOnce []Item, err error) {
	neverQuery, neverArgs, err := psql.
		Select("i.id").
		From("items i").
		LeftJoin("judgments j ON j.item_id = i.id").
		Where("j.id IS NULL").
		ToSql()
	if err != nil {
		return nil, nil, fmt.Errorf("build never-seen query: %w", err)
	}
	neverSeen, err = s.itemsByIDQuery(ctx, neverQuery, neverArgs...)
	if err != nil {
		return nil, nil, fmt.Errorf("never-seen items: %w", err)
	}

	onceQuery, onceArgs, err := psql.
		Select("j.item_id").
		From("judgments j").
		GroupBy("j.item_id").
		Having("COUNT(*) = 1").
		Having("BOOL_AND(j.annotator_id <> ?)", excludeAnnotator).
		ToSql()
	if err != nil {
		return nil, nil, fmt.Errorf("build seen-once query: %w", err)
	}
	seenOnce, err = s.itemsByIDQuery(ctx, onceQuery, onceArgs...)
	if err != nil {
		return nil, nil, fmt.Errorf("seen-once items: %w", err)
	}

	return neverSeen, seenOnce, nil
}

// itemsByIDQuery loads full items for an id-producing subquery.
func (s *PostgresStore) itemsByIDQuery(ctx context.Context, idQuery string, args ...any) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM ` + itemFrom + ` WHERE i.id IN (` + idQuery + `) ORDER BY i.id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM `+itemFrom+` ORDER BY i.id`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteItemIfUnjudged removes an item only when no judgment references it.
// Returns false when the item was kept.
func (s *PostgresStore) DeleteItemIfUnjudged(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM items
		WHERE id = $1
			AND NOT EXISTS (SELECT 1 FROM judgments WHERE item_id = $1)
			AND NOT EXISTS (SELECT 1 FROM escalations WHERE item_id = $1)
	`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	return affected > 0, nil
}

// ---- judgments (the assignment ledger) ----

const judgmentColumns = `id, item_id, annotator_id, classification, COALESCE(features_json::text, '[]'), assigned_at, completed_at`

func scanJudgment(scanner interface{ Scan(...any) error }) (JudgmentEntry, error) {
	var entry JudgmentEntry
	var featuresRaw string
	err := scanner.Scan(&entry.ID, &entry.ItemID, &entry.AnnotatorID, &entry.Classification, &featuresRaw, &entry.AssignedAt, &entry.CompletedAt)
	if err != nil {
		return JudgmentEntry{}, err
	}
	_ = json.Unmarshal([]byte(featuresRaw), &entry.Features)
	return entry, nil
}

// FindOpenByAnnotator returns the annotator's oldest open entry, if any.
// Serving is idempotent: an annotator with an open entry is always handed
// the same item again.
func (s *PostgresStore) FindOpenByAnnotator(ctx context.Context, annotatorID string) (*JudgmentEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+judgmentColumns+` FROM judgments
		WHERE annotator_id=$1 AND classification=$2
		ORDER BY assigned_at
		LIMIT 1
	`, annotatorID, unassigned)
	entry, err := scanJudgment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open entry by annotator: %w", err)
	}
	return &entry, nil
}

func (s *PostgresStore) OpenEntry(ctx context.Context, itemID, annotatorID string) (JudgmentEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO judgments (item_id, annotator_id, classification)
		VALUES ($1, $2, $3)
		ON CONFLICT (item_id, annotator_id) DO NOTHING
		RETURNING `+judgmentColumns+`
	`, itemID, annotatorID, unassigned)
	entry, err := scanJudgment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return JudgmentEntry{}, ErrAlreadyOpen
	}
	if err != nil {
		return JudgmentEntry{}, fmt.Errorf("open entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) CloseEntry(ctx context.Context, itemID, annotatorID, classification string, features []string) (JudgmentEntry, error) {
	encoded, err := encodeFeatures(features)
	if err != nil {
		return JudgmentEntry{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE judgments
		SET classification=$3, features_json=$4::jsonb, completed_at=NOW()
		WHERE item_id=$1 AND annotator_id=$2 AND classification=$5
		RETURNING `+judgmentColumns+`
	`, itemID, annotatorID, classification, encoded, unassigned)
	entry, err := scanJudgment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return JudgmentEntry{}, ErrNoOpenEntry
	}
	if err != nil {
		return JudgmentEntry{}, fmt.Errorf("close entry: %w", err)
	}
	return entry, nil
}

// PropagateVerdict rewrites every other entry for the item to the pro's
// classification and features. Assignment timestamps are left untouched.
func (s *PostgresStore) PropagateVerdict(ctx context.Context, itemID, excludeAnnotator, classification string, features []string) error {
	encoded, err := encodeFeatures(features)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE judgments
		SET classification=$3, features_json=$4::jsonb
		WHERE item_id=$1 AND annotator_id<>$2
	`, itemID, excludeAnnotator, classification, encoded)
	if err != nil {
		return fmt.Errorf("propagate verdict: %w", err)
	}
	return nil
}

// ClosedByOthers returns the completed judgments for an item made by
// annotators other than excludeAnnotator.
func (s *PostgresStore) ClosedByOthers(ctx context.Context, itemID, excludeAnnotator string) ([]JudgmentEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+judgmentColumns+` FROM judgments
		WHERE item_id=$1 AND annotator_id<>$2 AND classification<>$3
		ORDER BY id
	`, itemID, excludeAnnotator, unassigned)
	if err != nil {
		return nil, fmt.Errorf("closed entries by others: %w", err)
	}
	defer rows.Close()

	var entries []JudgmentEntry
	for rows.Next() {
		entry, err := scanJudgment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan judgment: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// PanelCounts returns an annotator's completed judgments per label and the
// count of entries still open.
func (s *PostgresStore) PanelCounts(ctx context.Context, annotatorID string) (map[string]int, int, error) {
	query, args, err := psql.
		Select("classification", "COUNT(*)").
		From("judgments").
		Where(sq.Eq{"annotator_id": annotatorID}).
		GroupBy("classification").
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build panel query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("panel counts: %w", err)
	}
	defer rows.Close()

	byLabel := make(map[string]int)
	remaining := 0
	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, 0, fmt.Errorf("scan panel row: %w", err)
		}
		if label == unassigned {
			remaining = count
			continue
		}
		byLabel[label] = count
	}
	return byLabel, remaining, rows.Err()
}

// GlobalLabelCounts returns, per label, the number of distinct items
// carrying that classification.
func (s *PostgresStore) GlobalLabelCounts(ctx context.Context) (map[string]int, error) {
	query, args, err := psql.
		Select("classification", "COUNT(DISTINCT item_id)").
		From("judgments").
		Where(sq.NotEq{"classification": unassigned}).
		GroupBy("classification").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build global counts query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("global label counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("scan global count: %w", err)
		}
		counts[label] = count
	}
	return counts, rows.Err()
}

// TotalClassifiedItems counts distinct items with at least one completed judgment.
func (s *PostgresStore) TotalClassifiedItems(ctx context.Context) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT item_id) FROM judgments WHERE classification<>$1
	`, unassigned).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total classified items: %w", err)
	}
	return total, nil
}

// AnnotatorBreakdowns returns the per-annotator rows of the global panel.
func (s *PostgresStore) AnnotatorBreakdowns(ctx context.Context) ([]AnnotatorBreakdown, error) {
	query, args, err := psql.
		Select("a.id", "a.email", "j.classification", "COUNT(*)").
		From("annotators a").
		Join("judgments j ON j.annotator_id = a.id").
		Where("a.activated").
		Where(sq.NotEq{"j.classification": unassigned}).
		GroupBy("a.id", "a.email", "j.classification").
		OrderBy("a.email").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build breakdown query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("annotator breakdowns: %w", err)
	}
	defer rows.Close()

	byAnnotator := make(map[string]*AnnotatorBreakdown)
	var order []string
	for rows.Next() {
		var id, email, label string
		var count int
		if err := rows.Scan(&id, &email, &label, &count); err != nil {
			return nil, fmt.Errorf("scan breakdown row: %w", err)
		}
		breakdown, ok := byAnnotator[id]
		if !ok {
			breakdown = &AnnotatorBreakdown{AnnotatorID: id, Email: email, ByLabel: make(map[string]int)}
			byAnnotator[id] = breakdown
			order = append(order, id)
		}
		breakdown.ByLabel[label] = count
		breakdown.Completed += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	breakdowns := make([]AnnotatorBreakdown, 0, len(order))
	for _, id := range order {
		breakdowns = append(breakdowns, *byAnnotator[id])
	}
	return breakdowns, nil
}

// FinalClassifications returns one row per settled item: at least one
// completed judgment, a single agreed label, and no unresolved escalation.
// The exported features are the earliest completed entry's.
func (s *PostgresStore) FinalClassifications(ctx context.Context) ([]FinalClassification, error) {
	const query = `
		SELECT DISTINCT ON (j.item_id)
			j.item_id,
			j.classification,
			COALESCE(j.features_json::text, '[]'),
			i.content
		FROM judgments j
		JOIN items i ON i.id = j.item_id
		WHERE j.classification <> $1
			AND NOT EXISTS (SELECT 1 FROM escalations e WHERE e.item_id = j.item_id AND NOT e.resolved)
			AND NOT EXISTS (
				SELECT 1 FROM judgments o
				WHERE o.item_id = j.item_id
					AND o.classification <> $1
					AND o.classification <> j.classification
			)
		ORDER BY j.item_id, j.assigned_at, j.id
	`
	rows, err := s.db.QueryContext(ctx, query, unassigned)
	if err != nil {
		return nil, fmt.Errorf("final classifications: %w", err)
	}
	defer rows.Close()

	var finals []FinalClassification
	for rows.Next() {
		var final FinalClassification
		var featuresRaw string
		if err := rows.Scan(&final.ItemID, &final.Classification, &featuresRaw, &final.Content); err != nil {
			return nil, fmt.Errorf("scan final classification: %w", err)
		}
		_ = json.Unmarshal([]byte(featuresRaw), &final.Features)
		finals = append(finals, final)
	}
	return finals, rows.Err()
}

// ---- escalations ----

func (s *PostgresStore) EnqueueIfAbsent(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalations (item_id)
		VALUES ($1)
		ON CONFLICT (item_id) WHERE NOT resolved DO NOTHING
	`, itemID)
	if err != nil {
		return fmt.Errorf("enqueue escalation: %w", err)
	}
	return nil
}

// ClaimNext returns the oldest unresolved escalation without resolving it.
// The caller resolves it only once an entry is actually opened, so a failed
// claim does not lose the item.
func (s *PostgresStore) ClaimNext(ctx context.Context) (*EscalationRecord, error) {
	var record EscalationRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, item_id, resolved, created_at FROM escalations
		WHERE NOT resolved
		ORDER BY created_at, id
		LIMIT 1
	`).Scan(&record.ID, &record.ItemID, &record.Resolved, &record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next escalation: %w", err)
	}
	return &record, nil
}

func (s *PostgresStore) MarkResolved(ctx context.Context, recordID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE escalations SET resolved=TRUE WHERE id=$1`, recordID)
	if err != nil {
		return fmt.Errorf("mark escalation resolved: %w", err)
	}
	return nil
}

// ResolveForItem marks any unresolved escalation for the item resolved.
func (s *PostgresStore) ResolveForItem(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE escalations SET resolved=TRUE WHERE item_id=$1 AND NOT resolved`, itemID)
	if err != nil {
		return fmt.Errorf("resolve escalations for item: %w", err)
	}
	return nil
}

// WasEscalated reports whether any escalation record, resolved or not,
// exists for the item.
func (s *PostgresStore) WasEscalated(ctx context.Context, itemID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM escalations WHERE item_id=$1)`, itemID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check escalation: %w", err)
	}
	return exists, nil
}

// ---- features ----

func (s *PostgresStore) UpsertFeature(ctx context.Context, label string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO features (label) VALUES ($1)
		ON CONFLICT (label) DO NOTHING
	`, label)
	if err != nil {
		return fmt.Errorf("upsert feature: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFeatures(ctx context.Context) ([]Feature, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, label FROM features ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	defer rows.Close()

	var features []Feature
	for rows.Next() {
		var f Feature
		if err := rows.Scan(&f.ID, &f.Label); err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

func encodeFeatures(features []string) (string, error) {
	if features == nil {
		features = []string{}
	}
	encoded, err := json.Marshal(features)
	if err != nil {
		return "", fmt.Errorf("encode features: %w", err)
	}
	return string(encoded), nil
}
