package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/territory-intel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode with relaxed synchronous durability: a crash may lose the most
// recent commit but never corrupts prior state.
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
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS places (
	place_id           TEXT PRIMARY KEY,
	name               TEXT,
	address            TEXT,
	phone              TEXT,
	website            TEXT,
	rating             REAL,
	review_count       INTEGER,
	lat                REAL,
	lng                REAL,
	primary_type       TEXT,
	types_json         TEXT,
	business_status    TEXT,
	maps_url           TEXT,
	opening_hours_json TEXT,
	first_seen         DATETIME NOT NULL,
	last_seen          DATETIME NOT NULL,

	industry_bucket    TEXT,
	mobility_fit       INTEGER,
	security_fit       INTEGER,
	voip_fit           INTEGER,
	fleet_attach       INTEGER,
	signal_after_hours INTEGER,
	signal_dispatch    INTEGER,
	signal_field_work  INTEGER,
	ai_reason          TEXT,
	ai_last_updated    DATETIME,

	total_score        REAL
);

CREATE INDEX IF NOT EXISTS idx_places_last_seen ON places(last_seen);
CREATE INDEX IF NOT EXISTS idx_places_primary_type ON places(primary_type);
CREATE INDEX IF NOT EXISTS idx_places_rating ON places(rating);
CREATE INDEX IF NOT EXISTS idx_places_website ON places(website);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	discovered   INTEGER NOT NULL DEFAULT 0,
	new_places   INTEGER NOT NULL DEFAULT 0,
	enriched     INTEGER NOT NULL DEFAULT 0,
	classified   INTEGER NOT NULL DEFAULT 0,
	scored       INTEGER NOT NULL DEFAULT 0,
	exported     INTEGER NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteUpsertSQL is the one merge code path for SQLite. Every write site
// (discovery, details) goes through it so partial, repeated, out-of-order
// calls reconcile identically.
var sqliteUpsertSQL = fmt.Sprintf(
	"INSERT INTO places (%s)\nVALUES (%s)\nON CONFLICT(place_id) DO UPDATE SET\n\t%s",
	strings.Join(upsertColumns, ", "),
	placeholders(len(upsertColumns)),
	mergeSetClauses(),
)

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *SQLiteStore) UpsertPlace(ctx context.Context, u model.PlaceUpdate) error {
	if u.PlaceID == "" {
		zap.L().Debug("upsert with empty place_id ignored")
		return nil
	}

	args, err := upsertArgs(u, time.Now().UTC())
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsertSQL, args...); err != nil {
		return eris.Wrapf(err, "sqlite: upsert place %s", u.PlaceID)
	}
	return nil
}

func (s *SQLiteStore) UpsertPlaces(ctx context.Context, updates []model.PlaceUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert batch")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	var written int64
	for _, u := range updates {
		if u.PlaceID == "" {
			zap.L().Debug("upsert with empty place_id ignored")
			continue
		}
		args, err := upsertArgs(u, now)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, sqliteUpsertSQL, args...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert place %s", u.PlaceID)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert batch")
	}
	return written, nil
}

func (s *SQLiteStore) TouchLastSeen(ctx context.Context, placeIDs []string) error {
	now := time.Now().UTC()
	for _, chunk := range chunkIDs(placeIDs, idChunkSize) {
		q := fmt.Sprintf(
			"UPDATE places SET last_seen = ? WHERE place_id IN (%s)",
			placeholders(len(chunk)),
		)
		args := make([]any, 0, len(chunk)+1)
		args = append(args, now)
		for _, id := range chunk {
			args = append(args, id)
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return eris.Wrap(err, "sqlite: touch last_seen")
		}
	}
	return nil
}

func (s *SQLiteStore) ExistingPlaceIDs(ctx context.Context, placeIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	for _, chunk := range chunkIDs(placeIDs, idChunkSize) {
		q := fmt.Sprintf(
			"SELECT place_id FROM places WHERE place_id IN (%s)",
			placeholders(len(chunk)),
		)
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: existing place ids")
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close() //nolint:errcheck
				return nil, eris.Wrap(err, "sqlite: scan place id")
			}
			existing[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: iterate place ids")
		}
		rows.Close() //nolint:errcheck
	}
	return existing, nil
}

// placeColumns is the full projection used by GetPlace and SelectForExport.
const placeColumns = `place_id, name, address, phone, website, rating, review_count,
	lat, lng, primary_type, types_json, business_status, maps_url, opening_hours_json,
	first_seen, last_seen,
	industry_bucket, mobility_fit, security_fit, voip_fit, fleet_attach,
	signal_after_hours, signal_dispatch, signal_field_work, ai_reason, ai_last_updated,
	total_score`

func (s *SQLiteStore) GetPlace(ctx context.Context, placeID string) (*model.Place, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+placeColumns+" FROM places WHERE place_id = ?", placeID)

	p, err := scanPlace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get place %s", placeID)
	}
	return p, nil
}

func (s *SQLiteStore) NeedsDetails(ctx context.Context, placeID string) (bool, error) {
	var phone, mapsURL *string
	err := s.db.QueryRowContext(ctx,
		"SELECT phone, maps_url FROM places WHERE place_id = ?", placeID,
	).Scan(&phone, &mapsURL)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: needs details %s", placeID)
	}
	return detailsNeeded(phone, mapsURL), nil
}

func (s *SQLiteStore) ShouldClassify(ctx context.Context, placeID string, currentWebsite *string) (bool, error) {
	var st aiState
	err := s.db.QueryRowContext(ctx,
		`SELECT website, ai_last_updated, mobility_fit, security_fit, voip_fit, fleet_attach
		 FROM places WHERE place_id = ?`, placeID,
	).Scan(&st.Website, &st.AILastUpdated, &st.MobilityFit, &st.SecurityFit, &st.VoipFit, &st.FleetAttach)
	if err == sql.ErrNoRows {
		return classifyNeeded(nil, currentWebsite), nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: should classify %s", placeID)
	}
	return classifyNeeded(&st, currentWebsite), nil
}

func (s *SQLiteStore) WriteClassification(ctx context.Context, placeID string, c model.Classification) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE places SET
			industry_bucket = ?,
			mobility_fit = ?,
			security_fit = ?,
			voip_fit = ?,
			fleet_attach = ?,
			signal_after_hours = ?,
			signal_dispatch = ?,
			signal_field_work = ?,
			ai_reason = ?,
			ai_last_updated = ?
		WHERE place_id = ?`,
		c.IndustryBucket, c.MobilityFit, c.SecurityFit, c.VoipFit, c.FleetAttach,
		c.SignalAfterHours, c.SignalDispatch, c.SignalFieldWork,
		truncateReason(c.Reason), time.Now().UTC(), placeID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: write classification %s", placeID)
	}
	logMissingWrite(res, "classification", placeID)
	return nil
}

func (s *SQLiteStore) WriteScore(ctx context.Context, placeID string, score float64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE places SET total_score = ? WHERE place_id = ?", score, placeID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: write score %s", placeID)
	}
	logMissingWrite(res, "score", placeID)
	return nil
}

func (s *SQLiteStore) SelectForClassification(ctx context.Context, limit int) ([]model.Candidate, error) {
	if limit <= 0 {
		limit = 50000
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT place_id, name, address, website, primary_type
		 FROM places
		 ORDER BY last_seen DESC, place_id
		 LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select for classification")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Candidate
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(&c.PlaceID, &c.Name, &c.Address, &c.Website, &c.PrimaryType); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate candidates")
}

func (s *SQLiteStore) SelectForExport(ctx context.Context) ([]model.Place, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+placeColumns+` FROM places
		 WHERE business_status IS NULL OR business_status != ?`,
		model.StatusClosedPermanently)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select for export")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Place
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan export row")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate export rows")
}

func (s *SQLiteStore) AllPlaceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT place_id FROM places ORDER BY last_seen DESC, place_id")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: all place ids")
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan place id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate place ids")
}

func (s *SQLiteStore) StartRun(ctx context.Context) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, started_at) VALUES (?, ?)",
		id, time.Now().UTC())
	if err != nil {
		return "", eris.Wrap(err, "sqlite: start run")
	}
	return id, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, stats RunStats, runErr error) error {
	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET
			completed_at = ?, discovered = ?, new_places = ?, enriched = ?,
			classified = ?, scored = ?, exported = ?, error = ?
		WHERE id = ?`,
		time.Now().UTC(), stats.Discovered, stats.NewPlaces, stats.Enriched,
		stats.Classified, stats.Scored, stats.Exported, errMsg, runID)
	return eris.Wrapf(err, "sqlite: complete run %s", runID)
}

func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, completed_at, discovered, new_places, enriched,
			classified, scored, exported, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.CompletedAt,
			&r.Stats.Discovered, &r.Stats.NewPlaces, &r.Stats.Enriched,
			&r.Stats.Classified, &r.Stats.Scored, &r.Stats.Exported, &r.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanPlace(row scannable) (*model.Place, error) {
	var p model.Place
	var typesJSON, hoursJSON *string

	err := row.Scan(
		&p.PlaceID, &p.Name, &p.Address, &p.Phone, &p.Website,
		&p.Rating, &p.ReviewCount, &p.Lat, &p.Lng,
		&p.PrimaryType, &typesJSON, &p.BusinessStatus, &p.MapsURL, &hoursJSON,
		&p.FirstSeen, &p.LastSeen,
		&p.IndustryBucket, &p.MobilityFit, &p.SecurityFit, &p.VoipFit, &p.FleetAttach,
		&p.SignalAfterHours, &p.SignalDispatch, &p.SignalFieldWork,
		&p.AIReason, &p.AILastUpdated,
		&p.TotalScore,
	)
	if err != nil {
		return nil, err
	}

	if typesJSON != nil {
		if err := json.Unmarshal([]byte(*typesJSON), &p.Types); err != nil {
			return nil, eris.Wrapf(err, "store: unmarshal types for %s", p.PlaceID)
		}
	}
	if hoursJSON != nil {
		p.OpeningHours = json.RawMessage(*hoursJSON)
	}
	return &p, nil
}

func logMissingWrite(res sql.Result, kind, placeID string) {
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		// Classification always follows a discovery upsert in normal flow;
		// an unknown id here is a caller bug, not a runtime fault.
		zap.L().Debug("write to unknown place ignored",
			zap.String("kind", kind),
			zap.String("place_id", placeID),
		)
	}
}
