package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-sql-driver/mysql"

	_ "modernc.org/sqlite"
)

var (
	// ErrUnsupportedDriver is returned for Weewx backends other than mysql and sqlite.
	ErrUnsupportedDriver = errors.New("unsupported weewx database driver")
)

// Weewx unit systems as stored in archive.usUnits.
const (
	unitsUS       = 1
	unitsMetric   = 16
	unitsMetricWX = 17
)

// WeewxConfig describes how to reach a Weewx archive database.
type WeewxConfig struct {
	Driver   string // "mysql" or "sqlite"
	User     string
	Password string
	Host     string
	Database string
	Path     string // sqlite file
	MaxAge   time.Duration
}

// WeewxStore reads the latest outdoor temperature from a Weewx archive table.
type WeewxStore struct {
	db     *sql.DB
	maxAge time.Duration
	now    func() time.Time
}

// OpenWeewx opens the archive database. The connection is established
// lazily; connection errors surface from CurrentOutsideTemp.
func OpenWeewx(cfg WeewxConfig) (*WeewxStore, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = cfg.Host
		mc.DBName = cfg.Database
		mc.Timeout = 5 * time.Second
		mc.ReadTimeout = 10 * time.Second

		connector, cerr := mysql.NewConnector(mc)
		if cerr != nil {
			return nil, fmt.Errorf("weewx mysql config: %w", cerr)
		}
		db = sql.OpenDB(connector)
	case "sqlite":
		db, err = sql.Open("sqlite", cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("weewx sqlite open: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	db.SetMaxOpenConns(1)
	return NewWeewxStore(db, cfg.MaxAge), nil
}

// NewWeewxStore wraps an open database handle. maxAge <= 0 defaults to 15 minutes.
func NewWeewxStore(db *sql.DB, maxAge time.Duration) *WeewxStore {
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}
	return &WeewxStore{
		db:     db,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// CurrentOutsideTemp returns the newest outTemp within maxAge, in °C rounded
// to one decimal. It returns nil when there is no recent observation.
func (s *WeewxStore) CurrentOutsideTemp(ctx context.Context) (*float64, error) {
	cutoff := s.now().Add(-s.maxAge).Unix()

	const query = `
		SELECT o.outTemp, o.usUnits
		FROM archive o
		WHERE o.dateTime >= ?
		ORDER BY o.dateTime DESC
		LIMIT 1
	`

	var (
		outTemp sql.NullFloat64
		units   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, query, cutoff).Scan(&outTemp, &units)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query weewx archive: %w", err)
	}
	if !outTemp.Valid {
		return nil, nil
	}

	c := outTemp.Float64
	switch units.Int64 {
	case unitsMetric, unitsMetricWX:
	default:
		// US customary (and rows without a unit system) store Fahrenheit.
		c = (c - 32) * 5 / 9
	}
	c = math.Round(c*10) / 10
	return &c, nil
}

// Close releases the database handle.
func (s *WeewxStore) Close() error {
	return s.db.Close()
}
