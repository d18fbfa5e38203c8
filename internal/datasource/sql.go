package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/rewired-gh/calspread/internal/logger"
	"github.com/rewired-gh/calspread/internal/models"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// DBConfig holds connection pool settings.
type DBConfig struct {
	Driver          string // "postgres" or "sqlite"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// Open connects to the upstream database and verifies it with a ping.
func Open(ctx context.Context, cfg DBConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	switch cfg.Driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// one connection keeps a :memory: database alive and shared
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", classify(err))
	}

	return db, nil
}

// SQLSource reads observations from the Datastream futures tables:
// wrds_contract_info (one row per contract) joined with wrds_fut_contract
// (one row per contract and trading day).
type SQLSource struct {
	db      *sqlx.DB
	schema  string
	timeout time.Duration
}

// NewSQLSource creates a source over db. An empty schema leaves table names
// unqualified, as in a local sqlite fixture.
func NewSQLSource(db *sqlx.DB, schema string, timeout time.Duration) *SQLSource {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SQLSource{db: db, schema: schema, timeout: timeout}
}

type contractRow struct {
	FutCode     string          `db:"futcode"`
	Mnemonic    sql.NullString  `db:"dsmnem"`
	Date        dbDate          `db:"date_"`
	Settlement  sql.NullFloat64 `db:"settlement"`
	LastTrdDate dbDate          `db:"lasttrddate"`
}

func (s *SQLSource) table(name string) string {
	if s.schema == "" {
		return name
	}
	return s.schema + "." + name
}

func (s *SQLSource) query() string {
	return s.db.Rebind(fmt.Sprintf(`
		SELECT c.futcode, c.dsmnem, v.date_, v.settlement, c.lasttrddate
		FROM %s c
		INNER JOIN %s v ON c.futcode = v.futcode
		WHERE c.contrcode = ?
		AND v.date_ >= ?
		AND v.date_ <= ?
		AND c.startdate <= ?
		AND c.lasttrddate >= ?
		ORDER BY v.date_, c.lasttrddate`,
		s.table("wrds_contract_info"), s.table("wrds_fut_contract")))
}

// Fetch implements Source. Rows without a settlement price are skipped.
func (s *SQLSource) Fetch(ctx context.Context, inst models.Instrument, start, end time.Time) ([]models.Observation, error) {
	if !inst.Valid() {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownInstrument, inst)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	from := models.Day(start).Format(models.DateLayout)
	to := models.Day(end).Format(models.DateLayout)

	var rows []contractRow
	if err := s.db.SelectContext(ctx, &rows, s.query(), inst.ContractCode(), from, to, to, from); err != nil {
		return nil, fmt.Errorf("failed to query %s contracts: %w", inst, classify(err))
	}

	obs := make([]models.Observation, 0, len(rows))
	skipped := 0
	for _, r := range rows {
		if !r.Settlement.Valid || !r.Date.Valid {
			skipped++
			continue
		}
		o := models.Observation{
			ContractID: strings.TrimSpace(r.FutCode),
			Mnemonic:   strings.TrimSpace(r.Mnemonic.String),
			Date:       models.Day(r.Date.Time),
			Close:      r.Settlement.Float64,
		}
		if r.LastTrdDate.Valid {
			o.Expiration = models.Day(r.LastTrdDate.Time)
		}
		if err := o.Validate(); err != nil {
			skipped++
			continue
		}
		obs = append(obs, o)
	}
	if skipped > 0 {
		logger.Debug("%s: skipped %d rows without a usable settlement", inst, skipped)
	}

	return obs, nil
}

// classify marks PostgreSQL errors that retrying cannot fix as ErrPermanent.
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code.Class() {
	case "28", // invalid authorization
		"3D", // invalid catalog name
		"3F", // invalid schema name
		"42": // syntax error or access rule violation
		return fmt.Errorf("%w: %s (%s)", ErrPermanent, pqErr.Message, pqErr.Code)
	}
	return err
}

// dbDate scans DATE columns from either driver: lib/pq returns time.Time,
// sqlite may return text.
type dbDate struct {
	Time  time.Time
	Valid bool
}

var dateLayouts = []string{
	models.DateLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (d *dbDate) Scan(src any) error {
	d.Time, d.Valid = time.Time{}, false
	switch v := src.(type) {
	case nil:
		return nil
	case time.Time:
		d.Time, d.Valid = v, true
		return nil
	case []byte:
		return d.parse(string(v))
	case string:
		return d.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into a date", src)
	}
}

func (d *dbDate) parse(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time, d.Valid = t, true
			return nil
		}
	}
	return fmt.Errorf("unrecognized date %q", s)
}
