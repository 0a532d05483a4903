package main

import (
	"os"
	"path/filepath"
	"testing"

	infraBQ "github.com/dvloznov/settlement-ledger/internal/infra/bigquery"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  int
		name     string
	}{
		{"0001_payment_facts.sql", true, 1, "payment_facts"},
		{"0012_add_index.sql", true, 12, "add_index"},
		{"001_invalid.sql", false, 0, ""},
		{"0001_test", false, 0, ""},
		{"0001.sql", false, 0, ""},
		{"invalid_0001_test.sql", false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.version, version)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestRenderMigration(t *testing.T) {
	ds := infraBQ.Dataset{ProjectID: "acme-prod", DatasetID: "ledger"}
	got := renderMigration("CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.t` (id INT64);", ds)
	assert.Equal(t, "CREATE TABLE `acme-prod.ledger.t` (id INT64);", got)
}

func TestLoadMigrations(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("0002_runs.sql", "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.runs` (id STRING);")
	write("0001_facts.sql", "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.facts` (id STRING);")
	write("README.md", "not a migration")

	ds := infraBQ.Dataset{ProjectID: "p", DatasetID: "d"}
	migrations, err := loadMigrations(dir, ds)
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "facts", migrations[0].Name)
	assert.Equal(t, "CREATE TABLE `p.d.facts` (id STRING);", migrations[0].SQL)
	assert.Len(t, migrations[0].Checksum, 64)
	assert.Equal(t, 2, migrations[1].Version)

	again, err := loadMigrations(dir, infraBQ.Dataset{ProjectID: "other", DatasetID: "x"})
	require.NoError(t, err)
	assert.Equal(t, migrations[0].Checksum, again[0].Checksum)

	write("0001_duplicate.sql", "SELECT 1;")
	_, err = loadMigrations(dir, ds)
	require.Error(t, err)
}

func TestRepoMigrationsLoad(t *testing.T) {
	migrations, err := loadMigrations(filepath.Join("..", "..", "migrations", "bigquery"), infraBQ.Dataset{ProjectID: "p", DatasetID: "d"})
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	for _, m := range migrations {
		assert.NotContains(t, m.SQL, "{{")
	}
}

func TestPending(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Filename: "0001_a.sql", Checksum: "aaa"},
		{Version: 2, Filename: "0002_b.sql", Checksum: "bbb"},
		{Version: 3, Filename: "0003_c.sql", Checksum: "ccc"},
	}
	applied := []AppliedMigration{
		{Version: 1, Checksum: "aaa"},
		{Version: 2, Checksum: "changed"},
	}

	todo := pending(zerolog.Nop(), migrations, applied)
	require.Len(t, todo, 1)
	assert.Equal(t, 3, todo[0].Version)

	assert.Len(t, pending(zerolog.Nop(), migrations, nil), 3)
}
