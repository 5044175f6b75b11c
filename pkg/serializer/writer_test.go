package serializer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capMask uint64

func (c capMask) String() string { return "mask" }

type sample struct {
	Name    string            `json:"name"`
	Count   int               `json:"count"`
	Labels  map[string]string `json:"labels"`
	Items   []int             `json:"items"`
	Mask    capMask           `json:"mask"`
	Hidden  string            `json:"-"`
	private string
}

func TestFormatIsUnknown(t *testing.T) {
	assert.False(t, FormatJSON.IsUnknown())
	assert.False(t, FormatYAML.IsUnknown())
	assert.False(t, FormatTable.IsUnknown())
	assert.True(t, Format("xml").IsUnknown())
	assert.Equal(t, []string{"json", "yaml", "table"}, SupportedFormats())
}

func TestWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(FormatJSON, &buf)
	require.NoError(t, w.Serialize(context.Background(), sample{Name: "a", Count: 2}))
	assert.Contains(t, buf.String(), `"name": "a"`)
	assert.NotContains(t, buf.String(), "Hidden")
}

func TestWriterYAMLUsesJSONNames(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(FormatYAML, &buf)
	require.NoError(t, w.Serialize(context.Background(), sample{Name: "a", Labels: map[string]string{"k": "v"}}))
	out := buf.String()
	assert.Contains(t, out, "name: a")
	assert.Contains(t, out, "labels:\n  k: v")
	assert.NotContains(t, out, "Name")
}

func TestWriterTable(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(FormatTable, &buf)
	s := sample{Name: "a", Count: 2, Labels: map[string]string{"k": "v"}, Items: []int{7}, Hidden: "h"}
	require.NoError(t, w.Serialize(context.Background(), s))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "FIELD"))
	for _, want := range []string{"name", "count", "labels.k", "items.[0]", "mask"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, out, "mask ")
	assert.NotContains(t, out, "Hidden")
	assert.NotContains(t, out, "private")
}

func TestWriterTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(FormatTable, &buf).Serialize(context.Background(), map[string]int{}))
	assert.Equal(t, "<empty>\n", buf.String())
}

func TestWriterUnknownFormatFallsBack(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(Format("xml"), &buf)
	require.NoError(t, w.Serialize(context.Background(), map[string]int{"a": 1}))
	assert.Contains(t, buf.String(), `"a": 1`)
}

func TestNewFileWriterOrStdout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	w, err := NewFileWriterOrStdout(FormatJSON, path)
	require.NoError(t, err)
	require.NoError(t, w.Serialize(context.Background(), map[string]int{"a": 1}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"a": 1`)

	_, err = NewFileWriterOrStdout(FormatJSON, filepath.Join(t.TempDir(), "missing", "out.json"))
	assert.Error(t, err)

	w, err = NewFileWriterOrStdout(FormatJSON, "-")
	require.NoError(t, err)
	assert.NoError(t, w.Close())
}
