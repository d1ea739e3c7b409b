package source

import (
	"context"
	"regexp"
	"strings"

	"github.com/arrowlake/arrowlake/internal/dataset"
)

type Kind string

const (
	KindObjectStore Kind = "object_store"
	KindWarehouse   Kind = "warehouse"
	KindTableFormat Kind = "table_format"
)

func Kinds() []Kind {
	return []Kind{KindObjectStore, KindWarehouse, KindTableFormat}
}

// Loader pulls one source into memory. A loader either returns a fully
// materialized dataset or an error; it never hands out partial data.
type Loader interface {
	Kind() Kind
	Load(ctx context.Context, identifier string) (*dataset.Dataset, error)
}

var (
	tableNamePattern   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
	unsafeNameCharsRun = regexp.MustCompile(`[^A-Za-z0-9_]+`)
)

func ValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

// TableName derives a SQL-safe table name from a base name and a source
// suffix, e.g. ("flights", "gcs") -> "flights_gcs".
func TableName(base, suffix string) string {
	base = strings.Trim(unsafeNameCharsRun.ReplaceAllString(strings.ToLower(base), "_"), "_")
	if base == "" {
		base = "table"
	}
	if base[0] >= '0' && base[0] <= '9' {
		base = "t_" + base
	}
	name := base
	if suffix != "" {
		name = base + "_" + suffix
	}
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}
