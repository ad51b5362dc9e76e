package mapper

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Guizzs26/go-region-sync/internal/models"
)

// Dialect selects placeholder style, identifier folding and upsert syntax
type Dialect int

const (
	Postgres Dialect = iota
	Firebird
)

func (d Dialect) String() string {
	if d == Firebird {
		return "firebird"
	}
	return "postgres"
}

// MaxIdentifierLength is 63 bytes on Postgres and 31 on Firebird 2.5
func (d Dialect) MaxIdentifierLength() int {
	if d == Firebird {
		return 31
	}
	return 63
}

// Policy columns whose full names exceed the Firebird 2.5 limit
var firebirdColumns = map[string]string{
	"requires_sanitization_for_global_sync":       "REQ_SANITIZE_GLOBAL",
	"allow_sanitization_override_consent_enabled": "ALLOW_OVERRIDE_CONSENT",
	"sanitization_override_consent_at":            "OVERRIDE_CONSENT_AT",
}

// SQLBuilder translates schema driven writes into dialect specific SQL
type SQLBuilder struct {
	dialect Dialect
}

func NewSQLBuilder(d Dialect) *SQLBuilder {
	return &SQLBuilder{dialect: d}
}

func (b *SQLBuilder) Dialect() Dialect {
	return b.dialect
}

// BuildUpsert generates an insert-or-update keyed by the schema primary key.
// Postgres uses ON CONFLICT, Firebird uses UPDATE OR INSERT ... MATCHING.
func (b *SQLBuilder) BuildUpsert(s Schema, row models.Row) (string, []any, error) {
	cols, err := s.Columns(row)
	if err != nil {
		return "", nil, fmt.Errorf("upsert on %s: %w", s.Table, err)
	}

	if err := s.ValidFor(b.dialect); err != nil {
		return "", nil, fmt.Errorf("upsert on %s: %w", s.Table, err)
	}

	names := make([]string, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		if !ValidIdentifierFor(b.dialect, c.Name) {
			return "", nil, fmt.Errorf("upsert on %s: column %q too long for %s", s.Table, c.Name, b.dialect)
		}
		names = append(names, b.ident(c.Name))
		placeholders = append(placeholders, b.placeholder(i+1))
		args = append(args, b.formatValue(c))
	}

	table := b.ident(s.Table)
	pk := b.ident(s.PrimaryKey)

	if b.dialect == Firebird {
		query := fmt.Sprintf(
			"UPDATE OR INSERT INTO %s (%s) VALUES (%s) MATCHING (%s)",
			table,
			strings.Join(names, ", "),
			strings.Join(placeholders, ", "),
			pk,
		)
		return query, args, nil
	}

	conflict := "DO NOTHING"
	if len(names) > 1 {
		sets := make([]string, 0, len(names)-1)
		for _, n := range names[1:] {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", n, n))
		}
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		table,
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
		pk,
		conflict,
	)
	return query, args, nil
}

// BuildStamp records the bookkeeping of an applied event on the target row
func (b *SQLBuilder) BuildStamp(s Schema, entityID string, stamp models.SyncStamp) (string, []any) {
	query := fmt.Sprintf(
		"UPDATE %s SET %s = %s, %s = %s, %s = %s WHERE %s = %s",
		b.ident(s.Table),
		b.ident(ColLastSyncedAt), b.placeholder(1),
		b.ident(ColLastSyncEventID), b.placeholder(2),
		b.ident(ColSyncVersion), b.placeholder(3),
		b.ident(s.PrimaryKey), b.placeholder(4),
	)
	syncedAt := any(stamp.SyncedAt.UTC())
	if b.dialect == Firebird {
		syncedAt = stamp.SyncedAt.UTC().Format("2006-01-02 15:04:05")
	}
	return query, []any{syncedAt, stamp.EventID, stamp.Version, entityID}
}

func (b *SQLBuilder) BuildDelete(s Schema, entityID string) (string, []any) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", b.ident(s.Table), b.ident(s.PrimaryKey), b.placeholder(1))
	return query, []any{entityID}
}

func (b *SQLBuilder) BuildSelectRow(s Schema, entityID string) (string, []any) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", b.ident(s.Table), b.ident(s.PrimaryKey), b.placeholder(1))
	return query, []any{entityID}
}

func (b *SQLBuilder) BuildSelectSyncState(s Schema, entityID string) (string, []any) {
	query := fmt.Sprintf(
		"SELECT %s, %s, %s FROM %s WHERE %s = %s",
		b.ident(ColLastSyncEventID), b.ident(ColLastSyncedAt), b.ident(ColSyncVersion),
		b.ident(s.Table), b.ident(s.PrimaryKey), b.placeholder(1),
	)
	return query, []any{entityID}
}

// BuildSelectRowMetadata reads the privacy and residency attributes of a source row
func (b *SQLBuilder) BuildSelectRowMetadata(s Schema, entityID string) (string, []any) {
	query := fmt.Sprintf(
		"SELECT %s, %s, %s, %s FROM %s WHERE %s = %s",
		b.column("data_residency"), b.column("data_origin_region"),
		b.column("is_sanitized"), b.column("sanitization_override_consent_at"),
		b.ident(s.Table), b.ident(s.PrimaryKey), b.placeholder(1),
	)
	return query, []any{entityID}
}

// BuildSelectSyncConfiguration reads the enabled policy of an entity type
func (b *SQLBuilder) BuildSelectSyncConfiguration(entityType string) (string, []any) {
	query := fmt.Sprintf(
		"SELECT %s, %s, %s, %s, %s, %s, %s FROM %s WHERE %s = %s AND %s = %s",
		b.column("sync_scope"), b.column("data_classification"), b.column("legal_basis"),
		b.column("requires_sanitization_for_global_sync"),
		b.column("allow_sanitization_override_consent_enabled"),
		b.column("is_enabled"), b.column("exposure_regions"),
		b.ident("entity_sync_configuration"),
		b.column("entity_type"), b.placeholder(1),
		b.column("is_enabled"), b.boolLiteral(true),
	)
	return query, []any{entityType}
}

func (b *SQLBuilder) ident(name string) string {
	if b.dialect == Firebird {
		// Standardizing to Uppercase to prevent case-sensitivity issues in Firebird
		return strings.ToUpper(name)
	}
	return pgx.Identifier{strings.ToLower(name)}.Sanitize()
}

// column resolves a policy column to its physical name in the dialect
func (b *SQLBuilder) column(name string) string {
	if b.dialect == Firebird {
		if short, ok := firebirdColumns[name]; ok {
			return short
		}
	}
	return b.ident(name)
}

func (b *SQLBuilder) placeholder(n int) string {
	if b.dialect == Firebird {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

func (b *SQLBuilder) boolLiteral(v bool) string {
	if b.dialect == Firebird {
		if v {
			return "1"
		}
		return "0"
	}
	if v {
		return "TRUE"
	}
	return "FALSE"
}

// formatValue coerces declared field types and handles Firebird 2.5 specificities
func (b *SQLBuilder) formatValue(c Column) any {
	v := c.Value
	if s, ok := v.(string); ok {
		switch c.Type {
		case FieldTimestamp:
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				v = t
			}
		case FieldDate:
			if t, err := time.Parse("2006-01-02", s); err == nil {
				v = t
			}
		}
	}
	if f, ok := v.(float64); ok && c.Type == FieldInt {
		v = int64(f)
	}

	if b.dialect != Firebird {
		return v
	}

	switch val := v.(type) {
	case bool:
		if val {
			return 1
		}
		return 0
	case time.Time:
		if c.Type == FieldDate {
			return val.Format("2006-01-02")
		}
		// TIMESTAMP has no zone in Firebird 2.5, store the UTC instant
		return val.UTC().Format("2006-01-02 15:04:05")
	case string:
		// Undeclared columns only: ISO8601/RFC3339 text is taken as a timestamp
		if c.Type == "" {
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				return t.UTC().Format("2006-01-02 15:04:05")
			}
		}
		return val
	default:
		return val
	}
}
