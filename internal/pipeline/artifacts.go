package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"sheetetl/internal/ddl"
	"sheetetl/internal/schema"
)

// TableMetadata is the per-table audit record: what the sheet looked like and
// which columns were computed by formulas.
type TableMetadata struct {
	Sheet           string            `json:"sheet" yaml:"sheet"`
	Headers         []string          `json:"headers" yaml:"headers"`
	Columns         []ColumnMetadata  `json:"columns" yaml:"columns"`
	HasFormula      map[string]bool   `json:"has_formula" yaml:"has_formula"`
	FormulaExamples map[string]string `json:"formula_examples,omitempty" yaml:"formula_examples,omitempty"`
}

type ColumnMetadata struct {
	Name       string `json:"name" yaml:"name"`
	Source     string `json:"source" yaml:"source"`
	Semantic   string `json:"semantic_type" yaml:"semantic_type"`
	SQLType    string `json:"sql_type" yaml:"sql_type"`
	Nullable   bool   `json:"nullable" yaml:"nullable"`
	PrimaryKey bool   `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
}

// Metadata builds the audit records keyed by "schema.table".
func Metadata(specs []schema.TableSpec) map[string]TableMetadata {
	out := make(map[string]TableMetadata, len(specs))
	for _, s := range specs {
		md := TableMetadata{
			Sheet:      s.Source,
			HasFormula: make(map[string]bool, len(s.Columns)),
		}
		for _, c := range s.Columns {
			md.Headers = append(md.Headers, c.Source)
			md.Columns = append(md.Columns, ColumnMetadata{
				Name:       c.Name,
				Source:     c.Source,
				Semantic:   c.SemanticType.String(),
				SQLType:    c.SQLType.String(),
				Nullable:   c.Nullable,
				PrimaryKey: c.PrimaryKey,
			})
			md.HasFormula[c.Source] = c.IsDerived
			if c.FormulaExample != "" {
				if md.FormulaExamples == nil {
					md.FormulaExamples = make(map[string]string)
				}
				md.FormulaExamples[c.Source] = c.FormulaExample
			}
		}
		out[s.QualifiedName()] = md
	}
	return out
}

// WriteMetadata writes Metadata(specs) to path, as YAML when path ends in
// .yaml or .yml and as indented JSON otherwise.
func WriteMetadata(path string, specs []schema.TableSpec) error {
	md := Metadata(specs)

	var (
		b   []byte
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(md); err == nil {
			err = enc.Close()
		}
		b = buf.Bytes()
	default:
		b, err = json.MarshalIndent(md, "", "  ")
		b = append(b, '\n')
	}
	if err != nil {
		return fmt.Errorf("WriteMetadata: encode: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("WriteMetadata: %w", err)
		}
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("WriteMetadata: %w", err)
	}
	return nil
}

// SchemasFile holds every CREATE SCHEMA statement in WriteDDLFiles output.
const SchemasFile = "000_schemas.sql"

// WriteDDLFiles writes stmts into dir: SchemasFile, then one
// "<schema>.<table>.sql" per table holding its CREATE TABLE, foreign keys
// and comments. It returns the written paths in statement order.
func WriteDDLFiles(dir string, stmts []ddl.Statement) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("WriteDDLFiles: %w", err)
	}

	var (
		order  []string
		byFile = make(map[string][]ddl.Statement)
	)
	for _, s := range stmts {
		name := SchemasFile
		if s.Phase != ddl.PhaseSchema {
			name = tableOf(s) + ".sql"
		}
		if _, ok := byFile[name]; !ok {
			order = append(order, name)
		}
		byFile[name] = append(byFile[name], s)
	}

	paths := make([]string, 0, len(order))
	for _, name := range order {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(ddl.Render(byFile[name])), 0o644); err != nil {
			return paths, fmt.Errorf("WriteDDLFiles: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// tableOf returns "schema.table" for a table-phase statement; foreign keys and
// comments carry a third component in Object.
func tableOf(s ddl.Statement) string {
	parts := strings.SplitN(s.Object, ".", 3)
	if len(parts) < 2 {
		return s.Object
	}
	return parts[0] + "." + parts[1]
}
