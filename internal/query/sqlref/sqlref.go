// Package sqlref checks that a statement is a single read-only query and
// extracts the tables it reads.
package sqlref

import (
	"context"
	"fmt"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/arrowlake/arrowlake/internal/lakeerr"
)

const defaultSchema = "main"

type Reference struct {
	Schema string
	Name   string
}

// Qualified returns the name a registry lookup should use. References into
// schemas other than main keep their qualifier and never match.
func (r Reference) Qualified() string {
	if r.Schema == "" || r.Schema == defaultSchema {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

type Analysis struct {
	References []Reference
}

func (a *Analysis) Tables() []string {
	seen := map[string]struct{}{}
	tables := make([]string, 0, len(a.References))
	for _, ref := range a.References {
		name := strings.ToLower(ref.Qualified())
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		tables = append(tables, name)
	}
	sort.Strings(tables)
	return tables
}

// Resolve matches the referenced tables against known names ignoring case.
// It returns the known spelling for each hit and the references that missed.
func (a *Analysis) Resolve(known []string) (resolved []string, missing []string) {
	index := make(map[string]string, len(known))
	for _, name := range known {
		index[strings.ToLower(name)] = name
	}
	for _, table := range a.Tables() {
		if name, ok := index[table]; ok {
			resolved = append(resolved, name)
			continue
		}
		missing = append(missing, table)
	}
	return resolved, missing
}

// Fallback analyzes SQL the PostgreSQL grammar cannot parse, such as
// engine-specific syntax.
type Fallback func(ctx context.Context, sqlText string) (*Analysis, error)

func Analyze(sqlText string) (*Analysis, error) {
	return AnalyzeWith(context.Background(), sqlText, nil)
}

// AnalyzeWith is Analyze, handing statements that fail to parse to fallback
// when one is given. Statements that parse but are not read-only queries are
// rejected without consulting it.
func AnalyzeWith(ctx context.Context, sqlText string, fallback Fallback) (*Analysis, error) {
	const op = "analyze sql"
	if strings.TrimSpace(sqlText) == "" {
		return nil, lakeerr.Errorf(lakeerr.KindSyntax, op, "sql is required")
	}
	tree, err := pg_query.Parse(sqlText)
	if err != nil {
		if fallback != nil {
			return fallback(ctx, sqlText)
		}
		return nil, lakeerr.E(lakeerr.KindSyntax, op, err)
	}
	if len(tree.GetStmts()) != 1 {
		return nil, lakeerr.Errorf(lakeerr.KindSyntax, op, "expected exactly one statement, got %d", len(tree.GetStmts()))
	}
	stmt := tree.GetStmts()[0].GetStmt()
	selectStmt := stmt.GetSelectStmt()
	if selectStmt == nil {
		return nil, lakeerr.Errorf(lakeerr.KindSyntax, op, "only SELECT queries are supported, got %s", statementName(stmt))
	}

	var (
		refs    []Reference
		ctes    = map[string]struct{}{}
		walkErr error
	)
	walk(selectStmt.ProtoReflect(), func(m protoreflect.Message) bool {
		switch node := m.Interface().(type) {
		case *pg_query.SelectStmt:
			if node.GetIntoClause() != nil {
				walkErr = fmt.Errorf("SELECT INTO is not allowed")
				return false
			}
		case *pg_query.CommonTableExpr:
			if query := node.GetCtequery(); query != nil && query.GetSelectStmt() == nil {
				walkErr = fmt.Errorf("data-modifying WITH %q is not allowed", node.GetCtename())
				return false
			}
			ctes[strings.ToLower(node.GetCtename())] = struct{}{}
		case *pg_query.RangeVar:
			schema := node.GetSchemaname()
			if catalog := node.GetCatalogname(); catalog != "" {
				schema = catalog + "." + schema
			}
			refs = append(refs, Reference{Schema: schema, Name: node.GetRelname()})
		}
		return true
	})
	if walkErr != nil {
		return nil, lakeerr.E(lakeerr.KindSyntax, op, walkErr)
	}

	return newAnalysis(refs, ctes), nil
}

func newAnalysis(refs []Reference, ctes map[string]struct{}) *Analysis {
	analysis := &Analysis{References: make([]Reference, 0, len(refs))}
	for _, ref := range refs {
		if ref.Schema == "" {
			if _, ok := ctes[strings.ToLower(ref.Name)]; ok {
				continue
			}
		}
		analysis.References = append(analysis.References, ref)
	}
	return analysis
}

// walk visits every message in the tree depth first. Returning false from
// visit stops the walk.
func walk(m protoreflect.Message, visit func(protoreflect.Message) bool) bool {
	if !m.IsValid() {
		return true
	}
	if !visit(m) {
		return false
	}
	keepGoing := true
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.Message() == nil || fd.IsMap() {
			return true
		}
		if fd.IsList() {
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				if !walk(list.Get(i).Message(), visit) {
					keepGoing = false
					return false
				}
			}
			return true
		}
		if !walk(v.Message(), visit) {
			keepGoing = false
			return false
		}
		return true
	})
	return keepGoing
}

func statementName(node *pg_query.Node) string {
	if node == nil || node.GetNode() == nil {
		return "an empty statement"
	}
	name := fmt.Sprintf("%T", node.GetNode())
	name = strings.TrimPrefix(name, "*pg_query.Node_")
	return name
}
