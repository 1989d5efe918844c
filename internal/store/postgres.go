package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/territory-intel/internal/db"
	"github.com/sells-group/territory-intel/internal/model"
)

// PostgresStore implements Store using a pgx connection pool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool; tests inject pgxmock here.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS places (
	place_id           TEXT PRIMARY KEY,
	name               TEXT,
	address            TEXT,
	phone              TEXT,
	website            TEXT,
	rating             DOUBLE PRECISION,
	review_count       BIGINT,
	lat                DOUBLE PRECISION,
	lng                DOUBLE PRECISION,
	primary_type       TEXT,
	types_json         TEXT,
	business_status    TEXT,
	maps_url           TEXT,
	opening_hours_json TEXT,
	first_seen         TIMESTAMPTZ NOT NULL,
	last_seen          TIMESTAMPTZ NOT NULL,

	industry_bucket    TEXT,
	mobility_fit       BIGINT,
	security_fit       BIGINT,
	voip_fit           BIGINT,
	fleet_attach       BIGINT,
	signal_after_hours BIGINT,
	signal_dispatch    BIGINT,
	signal_field_work  BIGINT,
	ai_reason          TEXT,
	ai_last_updated    TIMESTAMPTZ,

	total_score        DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_places_last_seen ON places(last_seen);
CREATE INDEX IF NOT EXISTS idx_places_primary_type ON places(primary_type);
CREATE INDEX IF NOT EXISTS idx_places_rating ON places(rating);
CREATE INDEX IF NOT EXISTS idx_places_website ON places(website);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	discovered   BIGINT NOT NULL DEFAULT 0,
	new_places   BIGINT NOT NULL DEFAULT 0,
	enriched     BIGINT NOT NULL DEFAULT 0,
	classified   BIGINT NOT NULL DEFAULT 0,
	scored       BIGINT NOT NULL DEFAULT 0,
	exported     BIGINT NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// postgresUpsertSQL mirrors the SQLite statement with numbered binds; the
// conflict clause comes from the same shared merge policy builder.
var postgresUpsertSQL = fmt.Sprintf(
	"INSERT INTO places (%s)\nVALUES (%s)\nON CONFLICT(place_id) DO UPDATE SET\n\t%s",
	strings.Join(upsertColumns, ", "),
	pgPlaceholders(1, len(upsertColumns)),
	mergeSetClauses(),
)

func pgPlaceholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func (s *PostgresStore) UpsertPlace(ctx context.Context, u model.PlaceUpdate) error {
	if u.PlaceID == "" {
		zap.L().Debug("upsert with empty place_id ignored")
		return nil
	}

	args, err := upsertArgs(u, time.Now().UTC())
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, postgresUpsertSQL, args...); err != nil {
		return eris.Wrapf(err, "postgres: upsert place %s", u.PlaceID)
	}
	return nil
}

func (s *PostgresStore) UpsertPlaces(ctx context.Context, updates []model.PlaceUpdate) (int64, error) {
	merged := mergeUpdates(updates)
	if len(merged) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(merged))
	for _, u := range merged {
		args, err := upsertArgs(u, now)
		if err != nil {
			return 0, err
		}
		rows = append(rows, args)
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "places",
		Columns:      upsertColumns,
		ConflictKeys: []string{"place_id"},
		UpdateCols:   []string{"last_seen"},
		CoalesceCols: mergeColumns,
	}, rows)
}

func (s *PostgresStore) TouchLastSeen(ctx context.Context, placeIDs []string) error {
	now := time.Now().UTC()
	for _, chunk := range chunkIDs(placeIDs, idChunkSize) {
		if _, err := s.pool.Exec(ctx,
			"UPDATE places SET last_seen = $1 WHERE place_id = ANY($2)",
			now, chunk,
		); err != nil {
			return eris.Wrap(err, "postgres: touch last_seen")
		}
	}
	return nil
}

func (s *PostgresStore) ExistingPlaceIDs(ctx context.Context, placeIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	for _, chunk := range chunkIDs(placeIDs, idChunkSize) {
		rows, err := s.pool.Query(ctx,
			"SELECT place_id FROM places WHERE place_id = ANY($1)", chunk)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: existing place ids")
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "postgres: scan place id")
			}
			existing[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: iterate place ids")
		}
		rows.Close()
	}
	return existing, nil
}

func (s *PostgresStore) GetPlace(ctx context.Context, placeID string) (*model.Place, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+placeColumns+" FROM places WHERE place_id = $1", placeID)

	p, err := scanPlace(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get place %s", placeID)
	}
	return p, nil
}

func (s *PostgresStore) NeedsDetails(ctx context.Context, placeID string) (bool, error) {
	var phone, mapsURL *string
	err := s.pool.QueryRow(ctx,
		"SELECT phone, maps_url FROM places WHERE place_id = $1", placeID,
	).Scan(&phone, &mapsURL)
	if err == pgx.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: needs details %s", placeID)
	}
	return detailsNeeded(phone, mapsURL), nil
}

func (s *PostgresStore) ShouldClassify(ctx context.Context, placeID string, currentWebsite *string) (bool, error) {
	var st aiState
	err := s.pool.QueryRow(ctx,
		`SELECT website, ai_last_updated, mobility_fit, security_fit, voip_fit, fleet_attach
		 FROM places WHERE place_id = $1`, placeID,
	).Scan(&st.Website, &st.AILastUpdated, &st.MobilityFit, &st.SecurityFit, &st.VoipFit, &st.FleetAttach)
	if err == pgx.ErrNoRows {
		return classifyNeeded(nil, currentWebsite), nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: should classify %s", placeID)
	}
	return classifyNeeded(&st, currentWebsite), nil
}

func (s *PostgresStore) WriteClassification(ctx context.Context, placeID string, c model.Classification) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE places SET
			industry_bucket = $1,
			mobility_fit = $2,
			security_fit = $3,
			voip_fit = $4,
			fleet_attach = $5,
			signal_after_hours = $6,
			signal_dispatch = $7,
			signal_field_work = $8,
			ai_reason = $9,
			ai_last_updated = $10
		WHERE place_id = $11`,
		c.IndustryBucket, c.MobilityFit, c.SecurityFit, c.VoipFit, c.FleetAttach,
		c.SignalAfterHours, c.SignalDispatch, c.SignalFieldWork,
		truncateReason(c.Reason), time.Now().UTC(), placeID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: write classification %s", placeID)
	}
	logMissingPgWrite(tag, "classification", placeID)
	return nil
}

func (s *PostgresStore) WriteScore(ctx context.Context, placeID string, score float64) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE places SET total_score = $1 WHERE place_id = $2", score, placeID)
	if err != nil {
		return eris.Wrapf(err, "postgres: write score %s", placeID)
	}
	logMissingPgWrite(tag, "score", placeID)
	return nil
}

func (s *PostgresStore) SelectForClassification(ctx context.Context, limit int) ([]model.Candidate, error) {
	if limit <= 0 {
		limit = 50000
	}

	rows, err := s.pool.Query(ctx,
		`SELECT place_id, name, address, website, primary_type
		 FROM places
		 ORDER BY last_seen DESC, place_id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select for classification")
	}
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(&c.PlaceID, &c.Name, &c.Address, &c.Website, &c.PrimaryType); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate candidates")
}

func (s *PostgresStore) SelectForExport(ctx context.Context) ([]model.Place, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+placeColumns+` FROM places
		 WHERE business_status IS NULL OR business_status != $1`,
		model.StatusClosedPermanently)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select for export")
	}
	defer rows.Close()

	var out []model.Place
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan export row")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate export rows")
}

func (s *PostgresStore) AllPlaceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT place_id FROM places ORDER BY last_seen DESC, place_id")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: all place ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan place id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: iterate place ids")
}

func (s *PostgresStore) StartRun(ctx context.Context) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		"INSERT INTO runs (id, started_at) VALUES ($1, $2)",
		id, time.Now().UTC())
	if err != nil {
		return "", eris.Wrap(err, "postgres: start run")
	}
	return id, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, stats RunStats, runErr error) error {
	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET
			completed_at = $1, discovered = $2, new_places = $3, enriched = $4,
			classified = $5, scored = $6, exported = $7, error = $8
		WHERE id = $9`,
		time.Now().UTC(), stats.Discovered, stats.NewPlaces, stats.Enriched,
		stats.Classified, stats.Scored, stats.Exported, errMsg, runID)
	return eris.Wrapf(err, "postgres: complete run %s", runID)
}

func (s *PostgresStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, started_at, completed_at, discovered, new_places, enriched,
			classified, scored, exported, error
		 FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.CompletedAt,
			&r.Stats.Discovered, &r.Stats.NewPlaces, &r.Stats.Enriched,
			&r.Stats.Classified, &r.Stats.Scored, &r.Stats.Exported, &r.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func logMissingPgWrite(tag pgconn.CommandTag, kind, placeID string) {
	if tag.RowsAffected() == 0 {
		zap.L().Debug("write to unknown place ignored",
			zap.String("kind", kind),
			zap.String("place_id", placeID),
		)
	}
}
