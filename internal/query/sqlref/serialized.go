package sqlref

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arrowlake/arrowlake/internal/lakeerr"
)

type serializedStatements struct {
	Error        bool              `json:"error"`
	ErrorType    string            `json:"error_type"`
	ErrorMessage string            `json:"error_message"`
	Statements   []json.RawMessage `json:"statements"`
}

// FromSerialized builds an Analysis from DuckDB's json_serialize_sql output.
func FromSerialized(data []byte) (*Analysis, error) {
	const op = "analyze serialized sql"
	var doc serializedStatements
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, lakeerr.E(lakeerr.KindSyntax, op, fmt.Errorf("decode serialized statement: %w", err))
	}
	if doc.Error {
		return nil, lakeerr.Errorf(lakeerr.KindSyntax, op, "%s: %s", doc.ErrorType, doc.ErrorMessage)
	}
	if len(doc.Statements) != 1 {
		return nil, lakeerr.Errorf(lakeerr.KindSyntax, op, "expected exactly one statement, got %d", len(doc.Statements))
	}

	var tree any
	if err := json.Unmarshal(doc.Statements[0], &tree); err != nil {
		return nil, lakeerr.E(lakeerr.KindSyntax, op, err)
	}
	var refs []Reference
	ctes := map[string]struct{}{}
	walkJSON(tree, func(node map[string]any) {
		if node["type"] == "BASE_TABLE" {
			schema, _ := node["schema_name"].(string)
			if catalog, _ := node["catalog_name"].(string); catalog != "" {
				schema = catalog + "." + schema
			}
			name, _ := node["table_name"].(string)
			refs = append(refs, Reference{Schema: schema, Name: name})
		}
		if cteMap, ok := node["cte_map"].(map[string]any); ok {
			entries, _ := cteMap["map"].([]any)
			for _, entry := range entries {
				if pair, ok := entry.(map[string]any); ok {
					if key, ok := pair["key"].(string); ok {
						ctes[strings.ToLower(key)] = struct{}{}
					}
				}
			}
		}
	})
	return newAnalysis(refs, ctes), nil
}

func walkJSON(value any, visit func(map[string]any)) {
	switch v := value.(type) {
	case map[string]any:
		visit(v)
		for _, child := range v {
			walkJSON(child, visit)
		}
	case []any:
		for _, child := range v {
			walkJSON(child, visit)
		}
	}
}
