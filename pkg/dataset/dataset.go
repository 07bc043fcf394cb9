package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// DefaultPatterns match the table files stage scripts usually consume.
var DefaultPatterns = []string{"**/*.csv", "**/*.tsv", "**/*.parquet", "**/*.json", "**/*.jsonl"}

// Info summarizes one data table for prompt construction.
type Info struct {
	Name               string            `json:"name"`
	Path               string            `json:"path"`
	Format             string            `json:"format"`
	SizeBytes          int64             `json:"size_bytes"`
	Columns            []string          `json:"columns,omitempty"`
	Description        string            `json:"description,omitempty"`
	ColumnDescriptions map[string]string `json:"column_descriptions,omitempty"`
}

// TableDoc is the data dictionary entry for a table.
type TableDoc struct {
	Description string            `yaml:"description" json:"description"`
	Columns     map[string]string `yaml:"columns" json:"columns"`
}

// Dictionary maps table names to their documentation.
type Dictionary map[string]TableDoc

// LoadDictionary reads a YAML (or JSON) data dictionary.
func LoadDictionary(path string) (Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var dict Dictionary
	if err := yaml.Unmarshal(data, &dict); err != nil {
		return nil, fmt.Errorf("parse data dictionary %s: %w", path, err)
	}
	return dict, nil
}

// Lookup finds a table entry ignoring case.
func (d Dictionary) Lookup(name string) (TableDoc, bool) {
	if doc, ok := d[name]; ok {
		return doc, true
	}
	for key, doc := range d {
		if strings.EqualFold(key, name) {
			return doc, true
		}
	}
	return TableDoc{}, false
}

// Discover lists the tables under dir matching patterns, sorted by name.
func Discover(dir string, patterns []string, dict Dictionary) ([]Info, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	fsys := os.DirFS(dir)

	seen := make(map[string]struct{})
	var infos []Info
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, rel := range matches {
			if _, ok := seen[rel]; ok {
				continue
			}
			seen[rel] = struct{}{}

			stat, err := fs.Stat(fsys, rel)
			if err != nil {
				return nil, err
			}
			if stat.IsDir() {
				continue
			}

			path := filepath.Join(dir, filepath.FromSlash(rel))
			info := Info{
				Name:      tableName(rel),
				Path:      path,
				Format:    strings.TrimPrefix(strings.ToLower(filepath.Ext(rel)), "."),
				SizeBytes: stat.Size(),
			}
			if cols, err := readHeader(path, info.Format); err == nil {
				info.Columns = cols
			}
			if doc, ok := dict.Lookup(info.Name); ok {
				info.Description = doc.Description
				info.ColumnDescriptions = doc.Columns
			}
			infos = append(infos, info)
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func tableName(rel string) string {
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func readHeader(path, format string) ([]string, error) {
	var comma rune
	switch format {
	case "csv":
		comma = ','
	case "tsv":
		comma = '\t'
	default:
		return nil, fmt.Errorf("no header reader for %s", format)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = comma
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	return header, err
}
