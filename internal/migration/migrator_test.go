package migration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"mariadb", DatabaseTypeMySQL, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"POSTGRES", DatabaseTypePostgres, false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestBuildDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/voice?sslmode=disable",
		BuildDatabaseURL(DatabaseTypePostgres, "db", 5432, "voice", "u", "p", "disable"))
	assert.Equal(t, "postgres://u:p@db:5432/voice?sslmode=require",
		BuildDatabaseURL(DatabaseTypePostgres, "db", 5432, "voice", "u", "p", ""))
	assert.Equal(t, "u:p@tcp(db:3306)/voice?parseTime=true&multiStatements=true",
		BuildDatabaseURL(DatabaseTypeMySQL, "db", 3306, "voice", "u", "p", ""))
	assert.Equal(t, "file:/tmp/v.db?_pragma=foreign_keys(1)",
		BuildDatabaseURL(DatabaseTypeSQLite, "", 0, "/tmp/v.db", "", "", ""))
}

func TestAvailableMigrations(t *testing.T) {
	for _, dbType := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite} {
		files, err := availableMigrations(dbType)
		require.NoError(t, err, dbType)
		require.Len(t, files, 3, dbType)
		assert.Equal(t, uint(1), files[0].version)
		assert.Equal(t, "create_chat_messages", files[0].name)
		assert.Equal(t, "create_turn_reports", files[1].name)
		assert.Equal(t, "add_chat_messages_seq", files[2].name)
	}
}

func TestNewMigrator_InvalidConfig(t *testing.T) {
	_, err := NewMigrator(nil)
	assert.ErrorContains(t, err, "config is required")

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite})
	assert.ErrorContains(t, err, "database URL is required")

	_, err = NewMigrator(&Config{DatabaseType: "oracle", DatabaseURL: "x"})
	assert.Error(t, err)
}

func newSQLiteMigrator(t *testing.T) *DefaultMigrator {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "voice.db")
	m, err := NewMigrator(&Config{
		DatabaseType: DatabaseTypeSQLite,
		DatabaseURL:  BuildDatabaseURL(DatabaseTypeSQLite, "", 0, dbPath, "", "", ""),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMigrator_SQLite_UpDown(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	m := newSQLiteMigrator(t)
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(3), info.CurrentVersion)
	assert.Equal(t, 0, info.PendingMigrations)

	require.NoError(t, m.Down(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	assert.True(t, statuses[0].Applied)
	assert.True(t, statuses[1].Applied)
	assert.False(t, statuses[2].Applied)
}

func TestMigrator_SQLite_SeqAllowsRepeatedRole(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	m := newSQLiteMigrator(t)
	ctx := context.Background()
	require.NoError(t, m.Up(ctx))

	const insert = `INSERT INTO chat_messages (session_id, turn_id, role, seq, content) VALUES (?, ?, ?, ?, ?)`
	_, err := m.db.ExecContext(ctx, insert, "s1", "t1", "user", 0, "hello")
	require.NoError(t, err)
	// 同一回合第二个 [ASR] 块
	_, err = m.db.ExecContext(ctx, insert, "s1", "t1", "user", 1, "again")
	require.NoError(t, err)
	// 同一 seq 仍然唯一
	_, err = m.db.ExecContext(ctx, insert, "s1", "t1", "user", 1, "again")
	assert.Error(t, err)
}

func TestCLI_Run(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	m := newSQLiteMigrator(t)
	ctx := context.Background()

	var out bytes.Buffer
	cli := NewCLI(m)
	cli.SetOutput(&out)

	require.NoError(t, cli.Run(ctx, "version", nil))
	assert.Contains(t, out.String(), "No migrations applied yet")

	out.Reset()
	require.NoError(t, cli.Run(ctx, "up", nil))
	assert.Contains(t, out.String(), "Current version: 3")

	out.Reset()
	require.NoError(t, cli.Run(ctx, "status", nil))
	assert.Contains(t, out.String(), "create_chat_messages")
	assert.Contains(t, out.String(), "Pending: 0")

	out.Reset()
	require.NoError(t, cli.Run(ctx, "steps", []string{"-1"}))
	assert.Contains(t, out.String(), "Current version: 2")

	assert.Error(t, cli.Run(ctx, "steps", nil))
	assert.Error(t, cli.Run(ctx, "goto", []string{"x"}))
	assert.Error(t, cli.Run(ctx, "sideways", nil))
}
