package mapper

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-region-sync/internal/models"
)

func TestBuildUpsertPostgres(t *testing.T) {
	b := NewSQLBuilder(Postgres)
	s := Schema{EntityType: "Country", Table: "Country", PrimaryKey: "id"}

	query, args, err := b.BuildUpsert(s, models.Row{
		"name":               "India",
		"id":                 "c-1",
		"iso":                "IN",
		"last_sync_event_id": "evt-source",
		"sync_version":       int64(9),
	})
	require.NoError(t, err)

	assert.Equal(t,
		`INSERT INTO "country" ("id", "iso", "name") VALUES ($1, $2, $3) ON CONFLICT ("id") DO UPDATE SET "iso" = EXCLUDED."iso", "name" = EXCLUDED."name"`,
		query)
	assert.Equal(t, []any{"c-1", "IN", "India"}, args)
}

func TestBuildUpsertPrimaryKeyOnly(t *testing.T) {
	b := NewSQLBuilder(Postgres)
	query, args, err := b.BuildUpsert(Schema{Table: "tag", PrimaryKey: "id"}, models.Row{"id": "t-1"})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "tag" ("id") VALUES ($1) ON CONFLICT ("id") DO NOTHING`, query)
	assert.Equal(t, []any{"t-1"}, args)
}

func TestBuildUpsertFirebird(t *testing.T) {
	b := NewSQLBuilder(Firebird)
	s := Schema{
		Table:      "job_post",
		PrimaryKey: "id",
		Fields: []Field{
			{Name: "title", Type: FieldString},
			{Name: "remote", Type: FieldBool},
			{Name: "published_at", Type: FieldTimestamp},
			{Name: "missing", Type: FieldString},
		},
	}

	query, args, err := b.BuildUpsert(s, models.Row{
		"ID":           "jp-1",
		"TITLE":        "Go engineer",
		"REMOTE":       true,
		"PUBLISHED_AT": "2026-05-01T08:30:00Z",
		"IGNORED":      "not declared",
	})
	require.NoError(t, err)

	assert.Equal(t, "UPDATE OR INSERT INTO JOB_POST (ID, TITLE, REMOTE, PUBLISHED_AT) VALUES (?, ?, ?, ?) MATCHING (ID)", query)
	assert.Equal(t, []any{"jp-1", "Go engineer", 1, "2026-05-01 08:30:00"}, args)
}

func TestBuildUpsertRequiresPrimaryKey(t *testing.T) {
	b := NewSQLBuilder(Postgres)
	_, _, err := b.BuildUpsert(Schema{Table: "candidate", PrimaryKey: "id"}, models.Row{"id": nil, "name": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary key")
}

func TestBuildUpsertRejectsUnsafeColumns(t *testing.T) {
	b := NewSQLBuilder(Postgres)
	_, _, err := b.BuildUpsert(Schema{Table: "candidate", PrimaryKey: "id"}, models.Row{"id": "1", "name; DROP": "x"})
	require.Error(t, err)
}

func TestBuildStampAndDelete(t *testing.T) {
	s := Schema{Table: "candidate", PrimaryKey: "id"}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	pgQuery, pgArgs := NewSQLBuilder(Postgres).BuildStamp(s, "c-1", models.SyncStamp{EventID: "evt-1", Version: 3, SyncedAt: at})
	assert.Equal(t, `UPDATE "candidate" SET "last_synced_at" = $1, "last_sync_event_id" = $2, "sync_version" = $3 WHERE "id" = $4`, pgQuery)
	assert.Equal(t, []any{at, "evt-1", int64(3), "c-1"}, pgArgs)

	fbQuery, fbArgs := NewSQLBuilder(Firebird).BuildStamp(s, "c-1", models.SyncStamp{EventID: "evt-1", SyncedAt: at})
	assert.Equal(t, "UPDATE CANDIDATE SET LAST_SYNCED_AT = ?, LAST_SYNC_EVENT_ID = ?, SYNC_VERSION = ? WHERE ID = ?", fbQuery)
	assert.Equal(t, "2026-01-02 03:04:05", fbArgs[0])

	delQuery, delArgs := NewSQLBuilder(Postgres).BuildDelete(s, "c-1")
	assert.Equal(t, `DELETE FROM "candidate" WHERE "id" = $1`, delQuery)
	assert.Equal(t, []any{"c-1"}, delArgs)
}

func TestBuildSelectSyncConfiguration(t *testing.T) {
	t.Run("postgres", func(t *testing.T) {
		query, args := NewSQLBuilder(Postgres).BuildSelectSyncConfiguration("Candidate")
		assert.Equal(t,
			`SELECT "sync_scope", "data_classification", "legal_basis", "requires_sanitization_for_global_sync", "allow_sanitization_override_consent_enabled", "is_enabled", "exposure_regions" FROM "entity_sync_configuration" WHERE "entity_type" = $1 AND "is_enabled" = TRUE`,
			query)
		assert.Equal(t, []any{"Candidate"}, args)
	})

	t.Run("firebird", func(t *testing.T) {
		query, args := NewSQLBuilder(Firebird).BuildSelectSyncConfiguration("Candidate")
		assert.Equal(t,
			"SELECT SYNC_SCOPE, DATA_CLASSIFICATION, LEGAL_BASIS, REQ_SANITIZE_GLOBAL, ALLOW_OVERRIDE_CONSENT, IS_ENABLED, EXPOSURE_REGIONS FROM ENTITY_SYNC_CONFIGURATION WHERE ENTITY_TYPE = ? AND IS_ENABLED = 1",
			query)
		assert.Equal(t, []any{"Candidate"}, args)
		assertIdentifiersFit(t, query, Firebird)
	})
}

func TestBuildSelectRowMetadata(t *testing.T) {
	s := Schema{Table: "candidate", PrimaryKey: "id"}

	pgQuery, _ := NewSQLBuilder(Postgres).BuildSelectRowMetadata(s, "c-1")
	assert.Equal(t,
		`SELECT "data_residency", "data_origin_region", "is_sanitized", "sanitization_override_consent_at" FROM "candidate" WHERE "id" = $1`,
		pgQuery)

	fbQuery, fbArgs := NewSQLBuilder(Firebird).BuildSelectRowMetadata(s, "c-1")
	assert.Equal(t,
		"SELECT DATA_RESIDENCY, DATA_ORIGIN_REGION, IS_SANITIZED, OVERRIDE_CONSENT_AT FROM CANDIDATE WHERE ID = ?",
		fbQuery)
	assert.Equal(t, []any{"c-1"}, fbArgs)
	assertIdentifiersFit(t, fbQuery, Firebird)
}

func assertIdentifiersFit(t *testing.T, query string, d Dialect) {
	t.Helper()
	for _, word := range strings.FieldsFunc(query, func(r rune) bool {
		return r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		assert.LessOrEqual(t, len(word), d.MaxIdentifierLength(), "identifier %s", word)
	}
}

func TestBuildUpsertFirebirdTimestamps(t *testing.T) {
	b := NewSQLBuilder(Firebird)
	s := Schema{
		Table:      "job_post",
		PrimaryKey: "id",
		Fields: []Field{
			{Name: "created_at", Type: FieldTimestamp},
			{Name: "note", Type: FieldString},
			{Name: "starts_on", Type: FieldDate},
		},
	}
	plus2 := time.FixedZone("CEST", 2*60*60)

	_, args, err := b.BuildUpsert(s, models.Row{
		"id":         "jp-1",
		"created_at": time.Date(2026, 1, 1, 10, 0, 0, 0, plus2),
		"note":       "2026-01-01T10:00:00+02:00",
		"starts_on":  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"jp-1", "2026-01-01 08:00:00", "2026-01-01T10:00:00+02:00", "2026-03-01"}, args)

	_, args, err = b.BuildUpsert(Schema{Table: "job_post", PrimaryKey: "id"}, models.Row{
		"id":         "jp-2",
		"created_at": "2026-01-01T10:00:00+02:00",
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"jp-2", "2026-01-01 08:00:00"}, args)
}

func TestIdentifierLimits(t *testing.T) {
	long := "sanitization_override_consent_at"

	assert.True(t, ValidIdentifierFor(Postgres, long))
	assert.False(t, ValidIdentifierFor(Firebird, long))
	assert.True(t, ValidIdentifierFor(Firebird, "override_consent_at"))
	assert.False(t, ValidIdentifier(strings.Repeat("a", 64)))
	assert.False(t, ValidIdentifierFor(Firebird, "bad-name"))

	s := Schema{Table: "candidate", PrimaryKey: "id", Fields: []Field{{Name: long, Type: FieldTimestamp}}}
	require.NoError(t, s.ValidFor(Postgres))
	require.Error(t, s.ValidFor(Firebird))

	_, _, err := NewSQLBuilder(Firebird).BuildUpsert(Schema{Table: "candidate", PrimaryKey: "id"}, models.Row{"id": "c-1", long: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too long")
}

func TestSchemaRegistry(t *testing.T) {
	t.Run("falls back to entity type and id", func(t *testing.T) {
		reg, err := NewSchemaRegistry()
		require.NoError(t, err)

		s, err := reg.Resolve(models.SyncMessage{EntityType: "Country"})
		require.NoError(t, err)
		assert.Equal(t, "Country", s.Table)
		assert.Equal(t, DefaultPrimaryKey, s.PrimaryKey)
	})

	t.Run("message table name overrides the descriptor", func(t *testing.T) {
		reg, err := NewSchemaRegistry(Schema{EntityType: "JobPost", Table: "job_posts", PrimaryKey: "job_id"})
		require.NoError(t, err)

		table := "job_posts_v2"
		s, err := reg.Resolve(models.SyncMessage{EntityType: "jobpost", TableName: &table})
		require.NoError(t, err)
		assert.Equal(t, "job_posts_v2", s.Table)
		assert.Equal(t, "job_id", s.PrimaryKey)
	})

	t.Run("unsafe table name is an invalid message", func(t *testing.T) {
		reg, err := NewSchemaRegistry()
		require.NoError(t, err)

		table := "users; --"
		_, err = reg.Resolve(models.SyncMessage{EntityType: "User", TableName: &table})
		require.ErrorIs(t, err, models.ErrInvalidMessage)
	})

	t.Run("loads descriptors from json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "schemas.json")
		require.NoError(t, os.WriteFile(path, []byte(`[
			{"entity_type": "Candidate", "table": "candidate", "fields": [{"name": "full_name", "type": "string"}]}
		]`), 0o600))

		reg, err := LoadSchemas(path)
		require.NoError(t, err)
		assert.Equal(t, 1, reg.Len())

		s, err := reg.Resolve(models.SyncMessage{EntityType: "Candidate"})
		require.NoError(t, err)
		assert.Equal(t, "id", s.PrimaryKey)
		assert.Len(t, s.Fields, 1)
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		_, err := NewSchemaRegistry(Schema{EntityType: "A"}, Schema{EntityType: "a"})
		require.Error(t, err)
	})
}
