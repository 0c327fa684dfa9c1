package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *WeewxStore {
	t.Helper()

	s, err := OpenWeewx(WeewxConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "weewx.sdb"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.db.Exec(`CREATE TABLE archive (
		dateTime INTEGER NOT NULL UNIQUE PRIMARY KEY,
		usUnits INTEGER NOT NULL,
		interval INTEGER NOT NULL,
		outTemp REAL
	)`)
	require.NoError(t, err)

	s.now = func() time.Time { return time.Unix(1717210800, 0) } // 2024-06-01T03:00:00Z
	return s
}

func insertArchive(t *testing.T, s *WeewxStore, ago time.Duration, units int, outTemp any) {
	t.Helper()
	_, err := s.db.Exec(
		"INSERT INTO archive (dateTime, usUnits, interval, outTemp) VALUES (?, ?, ?, ?)",
		s.now().Add(-ago).Unix(), units, 5, outTemp,
	)
	require.NoError(t, err)
}

func TestCurrentOutsideTempConvertsFahrenheit(t *testing.T) {
	s := newTestStore(t)
	insertArchive(t, s, 10*time.Minute, unitsUS, 50.0)
	insertArchive(t, s, 5*time.Minute, unitsUS, 53.6)

	temp, err := s.CurrentOutsideTemp(context.Background())
	require.NoError(t, err)
	require.NotNil(t, temp)
	assert.Equal(t, 12.0, *temp)
}

func TestCurrentOutsideTempMetric(t *testing.T) {
	s := newTestStore(t)
	insertArchive(t, s, 2*time.Minute, unitsMetric, 21.46)

	temp, err := s.CurrentOutsideTemp(context.Background())
	require.NoError(t, err)
	require.NotNil(t, temp)
	assert.Equal(t, 21.5, *temp)
}

func TestCurrentOutsideTempStale(t *testing.T) {
	s := newTestStore(t)
	insertArchive(t, s, 20*time.Minute, unitsUS, 60.0)

	temp, err := s.CurrentOutsideTemp(context.Background())
	require.NoError(t, err)
	assert.Nil(t, temp)
}

func TestCurrentOutsideTempNullReading(t *testing.T) {
	s := newTestStore(t)
	insertArchive(t, s, time.Minute, unitsUS, nil)

	temp, err := s.CurrentOutsideTemp(context.Background())
	require.NoError(t, err)
	assert.Nil(t, temp)
}

func TestCurrentOutsideTempMissingTable(t *testing.T) {
	s, err := OpenWeewx(WeewxConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "empty.sdb")})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CurrentOutsideTemp(context.Background())
	assert.Error(t, err)
}

func TestOpenWeewxUnsupportedDriver(t *testing.T) {
	_, err := OpenWeewx(WeewxConfig{Driver: "postgres"})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}
