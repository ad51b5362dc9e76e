package mapper

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/Guizzs26/go-region-sync/internal/models"
)

// Bookkeeping columns present on every replicated table. They describe the local copy,
// so they are never copied from the source row.
const (
	ColLastSyncedAt    = "last_synced_at"
	ColLastSyncEventID = "last_sync_event_id"
	ColSyncVersion     = "sync_version"

	DefaultPrimaryKey = "id"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is safe to splice into SQL as a table or column
// of a Postgres store
func ValidIdentifier(name string) bool {
	return ValidIdentifierFor(Postgres, name)
}

// ValidIdentifierFor also enforces the identifier length limit of the dialect
func ValidIdentifierFor(d Dialect, name string) bool {
	return len(name) <= d.MaxIdentifierLength() && identifierPattern.MatchString(name)
}

type FieldType string

const (
	FieldString    FieldType = "string"
	FieldInt       FieldType = "int"
	FieldFloat     FieldType = "float"
	FieldBool      FieldType = "bool"
	FieldTimestamp FieldType = "timestamp"
	FieldDate      FieldType = "date"
	FieldJSON      FieldType = "json"
)

type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// Schema describes how an entity type is laid out in every regional store
type Schema struct {
	EntityType string  `json:"entity_type"`
	Table      string  `json:"table"`
	PrimaryKey string  `json:"primary_key"`
	Fields     []Field `json:"fields"`
}

// Column is one value to write, in statement order
type Column struct {
	Name  string
	Type  FieldType
	Value any
}

func (s Schema) validate() error {
	return s.ValidFor(Postgres)
}

// ValidFor checks table, key and declared columns against the identifier rules of d
func (s Schema) ValidFor(d Dialect) error {
	if !ValidIdentifierFor(d, s.Table) {
		return fmt.Errorf("invalid %s table name %q", d, s.Table)
	}
	if !ValidIdentifierFor(d, s.PrimaryKey) {
		return fmt.Errorf("invalid %s primary key column %q", d, s.PrimaryKey)
	}
	for _, f := range s.Fields {
		if !ValidIdentifierFor(d, f.Name) {
			return fmt.Errorf("invalid %s column %q on %s", d, f.Name, s.Table)
		}
	}
	return nil
}

// Columns selects the values of row to write. With declared fields only those are written,
// in declaration order; otherwise every source column is written in sorted order.
// The primary key always comes first and bookkeeping columns are dropped.
func (s Schema) Columns(row models.Row) ([]Column, error) {
	pkValue, ok := lookup(row, s.PrimaryKey)
	if !ok || pkValue == nil {
		return nil, fmt.Errorf("row has no value for primary key %s", s.PrimaryKey)
	}
	cols := []Column{{Name: s.PrimaryKey, Type: s.fieldType(s.PrimaryKey), Value: pkValue}}

	if len(s.Fields) > 0 {
		for _, f := range s.Fields {
			if strings.EqualFold(f.Name, s.PrimaryKey) || isBookkeeping(f.Name) {
				continue
			}
			if v, ok := lookup(row, f.Name); ok {
				cols = append(cols, Column{Name: f.Name, Type: f.Type, Value: v})
			}
		}
		return cols, nil
	}

	keys := make([]string, 0, len(row))
	for k := range row {
		if strings.EqualFold(k, s.PrimaryKey) || isBookkeeping(k) {
			continue
		}
		if !ValidIdentifier(k) {
			return nil, fmt.Errorf("source column %q is not a valid identifier", k)
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		cols = append(cols, Column{Name: k, Value: row[k]})
	}
	return cols, nil
}

func (s Schema) fieldType(name string) FieldType {
	for _, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return f.Type
		}
	}
	return ""
}

func isBookkeeping(col string) bool {
	return strings.EqualFold(col, ColLastSyncedAt) ||
		strings.EqualFold(col, ColLastSyncEventID) ||
		strings.EqualFold(col, ColSyncVersion)
}

// lookup matches column names case-insensitively; Firebird returns them upper cased
func lookup(row models.Row, name string) (any, bool) {
	if v, ok := row[name]; ok {
		return v, true
	}
	for k, v := range row {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// Identifier extracts the primary key value of a row, nil when absent
func (s Schema) Identifier(row models.Row) any {
	v, _ := lookup(row, s.PrimaryKey)
	return v
}

// SchemaRegistry resolves the descriptor of an entity type. It is built once at start.
type SchemaRegistry struct {
	byType map[string]Schema
}

func NewSchemaRegistry(schemas ...Schema) (*SchemaRegistry, error) {
	r := &SchemaRegistry{byType: make(map[string]Schema, len(schemas))}
	for _, s := range schemas {
		if s.EntityType == "" {
			return nil, fmt.Errorf("schema without entity_type")
		}
		if s.Table == "" {
			s.Table = s.EntityType
		}
		if s.PrimaryKey == "" {
			s.PrimaryKey = DefaultPrimaryKey
		}
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("schema %s: %w", s.EntityType, err)
		}
		key := strings.ToLower(s.EntityType)
		if _, dup := r.byType[key]; dup {
			return nil, fmt.Errorf("schema %s declared twice", s.EntityType)
		}
		r.byType[key] = s
	}
	return r, nil
}

// LoadSchemas reads a JSON array of schemas. An empty path yields an empty registry.
func LoadSchemas(path string) (*SchemaRegistry, error) {
	if path == "" {
		return NewSchemaRegistry()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	var schemas []Schema
	if err := json.Unmarshal(raw, &schemas); err != nil {
		return nil, fmt.Errorf("parse schema file %s: %w", path, err)
	}
	return NewSchemaRegistry(schemas...)
}

// Resolve returns the schema for a message. The message table name overrides the descriptor.
func (r *SchemaRegistry) Resolve(msg models.SyncMessage) (Schema, error) {
	s, ok := r.byType[strings.ToLower(msg.EntityType)]
	if !ok {
		s = Schema{EntityType: msg.EntityType, Table: msg.EntityType, PrimaryKey: DefaultPrimaryKey}
	}
	if msg.TableName != nil && strings.TrimSpace(*msg.TableName) != "" {
		s.Table = msg.Table()
	}
	if err := s.validate(); err != nil {
		return Schema{}, fmt.Errorf("%w: %v", models.ErrInvalidMessage, err)
	}
	return s, nil
}

// Len is the number of registered descriptors
func (r *SchemaRegistry) Len() int {
	return len(r.byType)
}
