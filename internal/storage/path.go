package storage

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

type FileFormat string

const (
	FormatParquet   FileFormat = "parquet"
	FormatIPCFile   FileFormat = "arrow"
	FormatIPCStream FileFormat = "arrows"
)

func FormatForKey(key string) (FileFormat, bool) {
	switch strings.ToLower(path.Ext(key)) {
	case ".parquet", ".pq":
		return FormatParquet, true
	case ".arrow", ".feather", ".ipc":
		return FormatIPCFile, true
	case ".arrows":
		return FormatIPCStream, true
	default:
		return "", false
	}
}

// DataObjects keeps the readable data files from a listing, in key order.
// Hidden and marker objects such as _SUCCESS or .crc files are dropped.
func DataObjects(objects []ObjectInfo) []ObjectInfo {
	out := make([]ObjectInfo, 0, len(objects))
	for _, object := range objects {
		base := path.Base(object.Key)
		if strings.HasPrefix(base, "_") || strings.HasPrefix(base, ".") {
			continue
		}
		if _, ok := FormatForKey(object.Key); !ok {
			continue
		}
		out = append(out, object)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// CleanKey normalizes an object key and rejects traversal.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return cleaned, nil
}

func CleanPrefix(prefix string) string {
	prefix = strings.TrimSpace(strings.TrimPrefix(prefix, "/"))
	if prefix == "" {
		return ""
	}
	prefix = path.Clean(prefix)
	if prefix == "." {
		return ""
	}
	return prefix
}

func JoinKey(prefix, key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if prefix == "" {
		return cleaned, nil
	}
	return path.Join(prefix, cleaned), nil
}

func ListPrefix(prefix string) string {
	prefix = CleanPrefix(prefix)
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func RelativeKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
}
