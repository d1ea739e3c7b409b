package source

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

type Scheme string

const (
	SchemeDefault Scheme = ""
	SchemeGCS     Scheme = "gs"
	SchemeS3      Scheme = "s3"
	SchemeFile    Scheme = "file"
)

var (
	bucketPattern      = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,61}[a-z0-9]$`)
	projectPattern     = regexp.MustCompile(`^[a-z][a-z0-9-]{4,28}[a-z0-9]$`)
	datasetNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ObjectLocation is a parsed object-store location: [scheme://]bucket[/prefix].
type ObjectLocation struct {
	Scheme Scheme
	Bucket string
	Prefix string
}

func (l ObjectLocation) String() string {
	location := l.Bucket
	if l.Prefix != "" {
		location += "/" + l.Prefix
	}
	if l.Scheme != SchemeDefault {
		location = string(l.Scheme) + "://" + location
	}
	return location
}

// Base is the last prefix segment (without extension), or the bucket when
// the location has no prefix.
func (l ObjectLocation) Base() string {
	if l.Prefix == "" {
		return l.Bucket
	}
	base := path.Base(l.Prefix)
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

func ParseObjectLocation(raw string) (ObjectLocation, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ObjectLocation{}, fmt.Errorf("object store location is required")
	}
	if strings.ContainsAny(value, " \t\r\n") {
		return ObjectLocation{}, fmt.Errorf("object store location %q contains whitespace", raw)
	}

	location := ObjectLocation{}
	if scheme, rest, ok := strings.Cut(value, "://"); ok {
		switch Scheme(strings.ToLower(scheme)) {
		case SchemeGCS:
			location.Scheme = SchemeGCS
		case SchemeS3:
			location.Scheme = SchemeS3
		default:
			return ObjectLocation{}, fmt.Errorf("unsupported object store scheme %q", scheme)
		}
		value = rest
	}

	bucket, prefix, _ := strings.Cut(value, "/")
	if !bucketPattern.MatchString(bucket) {
		return ObjectLocation{}, fmt.Errorf("invalid bucket name %q", bucket)
	}
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		for _, segment := range strings.Split(prefix, "/") {
			if segment == "" || segment == "." || segment == ".." {
				return ObjectLocation{}, fmt.Errorf("invalid object prefix %q", prefix)
			}
		}
	}
	location.Bucket = bucket
	location.Prefix = prefix
	return location, nil
}

type WarehouseRef struct {
	Project string
	Dataset string
	Table   string
}

func (r WarehouseRef) String() string {
	parts := make([]string, 0, 3)
	if r.Project != "" {
		parts = append(parts, r.Project)
	}
	parts = append(parts, r.Dataset)
	if r.Table != "" {
		parts = append(parts, r.Table)
	}
	return strings.Join(parts, ".")
}

// ParseWarehouseRef accepts "dataset", "dataset.table" and
// "project.dataset.table". A two-part reference is dataset.table.
func ParseWarehouseRef(raw string) (WarehouseRef, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return WarehouseRef{}, fmt.Errorf("warehouse dataset is required")
	}
	parts := strings.Split(value, ".")
	var ref WarehouseRef
	switch len(parts) {
	case 1:
		ref = WarehouseRef{Dataset: parts[0]}
	case 2:
		ref = WarehouseRef{Dataset: parts[0], Table: parts[1]}
	case 3:
		ref = WarehouseRef{Project: parts[0], Dataset: parts[1], Table: parts[2]}
		if !projectPattern.MatchString(ref.Project) {
			return WarehouseRef{}, fmt.Errorf("invalid warehouse project %q", ref.Project)
		}
	default:
		return WarehouseRef{}, fmt.Errorf("invalid warehouse dataset %q", raw)
	}
	if !validDatasetName(ref.Dataset) {
		return WarehouseRef{}, fmt.Errorf("invalid warehouse dataset name %q", ref.Dataset)
	}
	if ref.Table != "" && !validDatasetName(ref.Table) {
		return WarehouseRef{}, fmt.Errorf("invalid warehouse table name %q", ref.Table)
	}
	return ref, nil
}

const maxDatasetNameLen = 1024

func validDatasetName(name string) bool {
	return len(name) <= maxDatasetNameLen && datasetNamePattern.MatchString(name)
}

// TablePath is a parsed table-format location: a local path or a
// gs://, s3:// or file:// URI.
type TablePath struct {
	Scheme Scheme
	Path   string
}

func (p TablePath) String() string {
	if p.Scheme == SchemeDefault {
		return p.Path
	}
	return string(p.Scheme) + "://" + p.Path
}

func (p TablePath) Remote() bool {
	return p.Scheme == SchemeGCS || p.Scheme == SchemeS3
}

func (p TablePath) Base() string {
	return path.Base(strings.TrimRight(p.Path, "/"))
}

func ParseTablePath(raw string) (TablePath, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return TablePath{}, fmt.Errorf("table format path is required")
	}
	if strings.ContainsAny(value, " \t\r\n'") {
		return TablePath{}, fmt.Errorf("table format path %q contains unsupported characters", raw)
	}

	parsed := TablePath{}
	if scheme, rest, ok := strings.Cut(value, "://"); ok {
		switch Scheme(strings.ToLower(scheme)) {
		case SchemeGCS:
			parsed.Scheme = SchemeGCS
		case SchemeS3:
			parsed.Scheme = SchemeS3
		case SchemeFile:
			parsed.Scheme = SchemeFile
		default:
			return TablePath{}, fmt.Errorf("unsupported table format scheme %q", scheme)
		}
		value = rest
	}

	trimmed := strings.TrimRight(value, "/")
	if trimmed == "" {
		return TablePath{}, fmt.Errorf("table format path %q is empty", raw)
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." {
			return TablePath{}, fmt.Errorf("table format path %q must not contain ..", raw)
		}
	}
	parsed.Path = trimmed
	return parsed, nil
}
