package database

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/progeek/gpsd-influxdb/internal/config"
	"github.com/progeek/gpsd-influxdb/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpsd.db")
	m := NewManager(zerolog.Nop(), config.DBConfig{Type: DialectSQLite, SQLitePath: path})

	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { m.Close() })
	assert.Equal(t, DialectSQLite, m.Dialect())

	require.NoError(t, m.Setup())
	assert.True(t, m.DB.Migrator().HasTable(&model.Device{}))
	assert.True(t, m.DB.Migrator().HasTable(&model.Fix{}))
	assert.FileExists(t, path)
}

func TestConnect_PostgresUnreachableFallsBackToSQLite(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	path := filepath.Join(t.TempDir(), "fallback.db")
	m := NewManager(zerolog.Nop(), config.DBConfig{
		Type:       DialectPostgres,
		Host:       "127.0.0.1",
		Port:       strconv.Itoa(port),
		Username:   "postgres",
		Password:   "postgres",
		Database:   "gpsd",
		SQLitePath: path,
	})

	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { m.Close() })
	assert.Equal(t, DialectSQLite, m.Dialect())
	require.NoError(t, m.Setup())
}

func TestSetup_NotConnected(t *testing.T) {
	m := NewManager(zerolog.Nop(), config.DBConfig{})
	assert.Error(t, m.Setup())
	assert.NoError(t, m.Close())
	assert.Equal(t, "", m.Dialect())
}

func TestOpenSQLite_InMemory(t *testing.T) {
	db, err := OpenSQLite("")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(model.DatabaseModels...))
	require.NoError(t, db.Create(&model.Device{Path: "/dev/ttyUSB0"}).Error)

	var count int64
	require.NoError(t, db.Model(&model.Device{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
