package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverFindsTablesRecursively(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "raw"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train.csv"), []byte("ADDRESS,LABEL\n0x1,1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "raw", "transactions.parquet"), []byte("PAR1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	dict := Dictionary{"TRAIN": {Description: "labelled addresses", Columns: map[string]string{"LABEL": "1 if sybil"}}}

	infos, err := Discover(dir, nil, dict)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, "train", infos[0].Name)
	assert.Equal(t, "csv", infos[0].Format)
	assert.Equal(t, []string{"ADDRESS", "LABEL"}, infos[0].Columns)
	assert.Equal(t, "labelled addresses", infos[0].Description)
	assert.Equal(t, "1 if sybil", infos[0].ColumnDescriptions["LABEL"])

	assert.Equal(t, "transactions", infos[1].Name)
	assert.Equal(t, "parquet", infos[1].Format)
	assert.Empty(t, infos[1].Columns)
	assert.Equal(t, filepath.Join(dir, "raw", "transactions.parquet"), infos[1].Path)
}

func TestDiscoverCustomPatterns(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("x\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.tsv"), []byte("p\tq\n"), 0644))

	infos, err := Discover(dir, []string{"*.tsv"}, nil)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, []string{"p", "q"}, infos[0].Columns)
}

func TestLoadDictionary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.yaml")
	require.NoError(t, os.WriteFile(path, []byte("TRANSACTIONS:\n  description: on-chain txs\n  columns:\n    VALUE: wei sent\n"), 0644))

	dict, err := LoadDictionary(path)
	require.NoError(t, err)
	doc, ok := dict.Lookup("transactions")
	require.True(t, ok)
	assert.Equal(t, "on-chain txs", doc.Description)
	assert.Equal(t, "wei sent", doc.Columns["VALUE"])
}
