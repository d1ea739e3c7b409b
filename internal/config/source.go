package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/source"
)

type DocumentFormat string

const (
	FormatTOML DocumentFormat = "toml"
	FormatYAML DocumentFormat = "yaml"
	FormatJSON DocumentFormat = "json"
)

// SourceConfig says where each source lives. It is a value type; once
// validated it is never mutated.
type SourceConfig struct {
	ObjectStoreLocation string
	WarehouseDataset    string
	TableFormatPath     string
	WarehouseTable      string
	Tables              TableNames
}

type TableNames struct {
	ObjectStore string
	Warehouse   string
	TableFormat string
}

type sourceDocument struct {
	ObjectStoreLocation string         `toml:"object_store_location" yaml:"object_store_location" json:"object_store_location"`
	WarehouseDataset    string         `toml:"warehouse_dataset" yaml:"warehouse_dataset" json:"warehouse_dataset"`
	TableFormatPath     string         `toml:"table_format_path" yaml:"table_format_path" json:"table_format_path"`
	WarehouseTable      string         `toml:"warehouse_table" yaml:"warehouse_table" json:"warehouse_table"`
	Tables              tablesDocument `toml:"tables" yaml:"tables" json:"tables"`

	GCSBucket       string `toml:"gcs_bucket" yaml:"gcs_bucket" json:"gcs_bucket"`
	BigQueryDataset string `toml:"bigquery_dataset" yaml:"bigquery_dataset" json:"bigquery_dataset"`
	IcebergTable    string `toml:"iceberg_table" yaml:"iceberg_table" json:"iceberg_table"`
}

type tablesDocument struct {
	ObjectStore string `toml:"object_store" yaml:"object_store" json:"object_store"`
	Warehouse   string `toml:"warehouse" yaml:"warehouse" json:"warehouse"`
	TableFormat string `toml:"table_format" yaml:"table_format" json:"table_format"`
}

func FormatForPath(path string) (DocumentFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", lakeerr.Errorf(lakeerr.KindConfig, "load source config", "unsupported config file extension %q", filepath.Ext(path))
	}
}

// LoadSourceConfig reads the document at path once, applies the
// ARROWLAKE_* overlay from lookup and validates the result.
func LoadSourceConfig(path string, lookup LookupFunc) (SourceConfig, error) {
	if strings.TrimSpace(path) == "" {
		return SourceConfig{}, lakeerr.Errorf(lakeerr.KindConfig, "load source config", "config path is required")
	}
	format, err := FormatForPath(path)
	if err != nil {
		return SourceConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return SourceConfig{}, lakeerr.E(lakeerr.KindConfig, "load source config", fmt.Errorf("read %s: %w", path, err))
	}
	cfg, err := decodeSourceConfig(data, format)
	if err != nil {
		return SourceConfig{}, err
	}
	if lookup != nil {
		applySourceOverlay(lookup, &cfg)
	}
	if err := cfg.Validate(); err != nil {
		return SourceConfig{}, err
	}
	return cfg, nil
}

func ParseSourceConfig(data []byte, format DocumentFormat) (SourceConfig, error) {
	cfg, err := decodeSourceConfig(data, format)
	if err != nil {
		return SourceConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return SourceConfig{}, err
	}
	return cfg, nil
}

func decodeSourceConfig(data []byte, format DocumentFormat) (SourceConfig, error) {
	var doc sourceDocument
	switch format {
	case FormatTOML:
		md, err := toml.Decode(string(data), &doc)
		if err != nil {
			return SourceConfig{}, lakeerr.E(lakeerr.KindConfig, "parse source config", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return SourceConfig{}, lakeerr.Errorf(lakeerr.KindConfig, "parse source config", "unknown keys: %s", strings.Join(keys, ", "))
		}
	case FormatYAML:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return SourceConfig{}, lakeerr.E(lakeerr.KindConfig, "parse source config", err)
		}
	case FormatJSON:
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&doc); err != nil {
			return SourceConfig{}, lakeerr.E(lakeerr.KindConfig, "parse source config", err)
		}
	default:
		return SourceConfig{}, lakeerr.Errorf(lakeerr.KindConfig, "parse source config", "unsupported document format %q", format)
	}
	return doc.resolve()
}

func (d sourceDocument) resolve() (SourceConfig, error) {
	objectStore, err := resolveAlias("object_store_location", d.ObjectStoreLocation, "gcs_bucket", d.GCSBucket)
	if err != nil {
		return SourceConfig{}, err
	}
	warehouse, err := resolveAlias("warehouse_dataset", d.WarehouseDataset, "bigquery_dataset", d.BigQueryDataset)
	if err != nil {
		return SourceConfig{}, err
	}
	tableFormat, err := resolveAlias("table_format_path", d.TableFormatPath, "iceberg_table", d.IcebergTable)
	if err != nil {
		return SourceConfig{}, err
	}
	return SourceConfig{
		ObjectStoreLocation: objectStore,
		WarehouseDataset:    warehouse,
		TableFormatPath:     tableFormat,
		WarehouseTable:      strings.TrimSpace(d.WarehouseTable),
		Tables: TableNames{
			ObjectStore: strings.TrimSpace(d.Tables.ObjectStore),
			Warehouse:   strings.TrimSpace(d.Tables.Warehouse),
			TableFormat: strings.TrimSpace(d.Tables.TableFormat),
		},
	}, nil
}

func resolveAlias(key, value, aliasKey, aliasValue string) (string, error) {
	value = strings.TrimSpace(value)
	aliasValue = strings.TrimSpace(aliasValue)
	if value != "" && aliasValue != "" {
		return "", lakeerr.Errorf(lakeerr.KindConfig, "parse source config", "%s and %s are both set", key, aliasKey)
	}
	if value == "" {
		return aliasValue, nil
	}
	return value, nil
}

func applySourceOverlay(lookup LookupFunc, cfg *SourceConfig) {
	_ = applyString(lookup, "ARROWLAKE_OBJECT_STORE_LOCATION", &cfg.ObjectStoreLocation)
	_ = applyString(lookup, "ARROWLAKE_WAREHOUSE_DATASET", &cfg.WarehouseDataset)
	_ = applyString(lookup, "ARROWLAKE_TABLE_FORMAT_PATH", &cfg.TableFormatPath)
	_ = applyString(lookup, "ARROWLAKE_WAREHOUSE_TABLE", &cfg.WarehouseTable)
}

func (c SourceConfig) Validate() error {
	const op = "validate source config"
	if c.ObjectStoreLocation == "" {
		return lakeerr.Errorf(lakeerr.KindConfig, op, "object_store_location is required")
	}
	if c.WarehouseDataset == "" {
		return lakeerr.Errorf(lakeerr.KindConfig, op, "warehouse_dataset is required")
	}
	if c.TableFormatPath == "" {
		return lakeerr.Errorf(lakeerr.KindConfig, op, "table_format_path is required")
	}
	if _, err := source.ParseObjectLocation(c.ObjectStoreLocation); err != nil {
		return lakeerr.E(lakeerr.KindConfig, op, err)
	}
	ref, err := source.ParseWarehouseRef(c.WarehouseDataset)
	if err != nil {
		return lakeerr.E(lakeerr.KindConfig, op, err)
	}
	if c.WarehouseTable != "" {
		if ref.Table != "" && ref.Table != c.WarehouseTable {
			return lakeerr.Errorf(lakeerr.KindConfig, op, "warehouse_dataset names table %q but warehouse_table is %q", ref.Table, c.WarehouseTable)
		}
		if _, err := source.ParseWarehouseRef(ref.Dataset + "." + c.WarehouseTable); err != nil {
			return lakeerr.E(lakeerr.KindConfig, op, err)
		}
	}
	if _, err := source.ParseTablePath(c.TableFormatPath); err != nil {
		return lakeerr.E(lakeerr.KindConfig, op, err)
	}

	seen := map[string]string{}
	for _, override := range []struct{ key, name string }{
		{"tables.object_store", c.Tables.ObjectStore},
		{"tables.warehouse", c.Tables.Warehouse},
		{"tables.table_format", c.Tables.TableFormat},
	} {
		if override.name == "" {
			continue
		}
		if !source.ValidTableName(override.name) {
			return lakeerr.Errorf(lakeerr.KindConfig, op, "%s %q is not a valid table name", override.key, override.name)
		}
		folded := strings.ToLower(override.name)
		if previous, ok := seen[folded]; ok {
			return lakeerr.Errorf(lakeerr.KindConfig, op, "%s %q duplicates %s", override.key, override.name, previous)
		}
		seen[folded] = override.key
	}
	return nil
}

// Identifier is the string handed to the loader for kind. The warehouse
// identifier carries warehouse_table when the dataset does not name one.
func (c SourceConfig) Identifier(kind source.Kind) string {
	switch kind {
	case source.KindObjectStore:
		return c.ObjectStoreLocation
	case source.KindWarehouse:
		if c.WarehouseTable == "" {
			return c.WarehouseDataset
		}
		ref, err := source.ParseWarehouseRef(c.WarehouseDataset)
		if err != nil || ref.Table != "" {
			return c.WarehouseDataset
		}
		ref.Table = c.WarehouseTable
		return ref.String()
	case source.KindTableFormat:
		return c.TableFormatPath
	default:
		return ""
	}
}

func (c SourceConfig) TableName(kind source.Kind) string {
	switch kind {
	case source.KindObjectStore:
		return c.Tables.ObjectStore
	case source.KindWarehouse:
		return c.Tables.Warehouse
	case source.KindTableFormat:
		return c.Tables.TableFormat
	default:
		return ""
	}
}
