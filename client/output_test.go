package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() table {
	return table{
		header: []string{"NAME", "SIZE"},
		rows:   [][]string{{"tiny", "1"}, {"enormous", "128"}},
		value:  []map[string]any{{"name": "tiny", "size": 1}, {"name": "enormous", "size": 128}},
	}
}

func TestRender_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderTo(&buf, "table", sampleTable()))

	expected := "NAME      SIZE\n" +
		"tiny      1\n" +
		"enormous  128\n"
	assert.Equal(t, expected, buf.String())
}

func TestRender_DefaultsToTable(t *testing.T) {
	var table, empty bytes.Buffer
	require.NoError(t, renderTo(&table, "table", sampleTable()))
	require.NoError(t, renderTo(&empty, "", sampleTable()))
	assert.Equal(t, table.String(), empty.String())
}

func TestRender_Name(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderTo(&buf, "name", sampleTable()))
	assert.Equal(t, "tiny\nenormous\n", buf.String())
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderTo(&buf, "json", sampleTable()))
	assert.JSONEq(t, `[{"name":"tiny","size":1},{"name":"enormous","size":128}]`, buf.String())
}

func TestRender_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderTo(&buf, "yaml", sampleTable()))
	assert.YAMLEq(t, "- name: tiny\n  size: 1\n- name: enormous\n  size: 128\n", buf.String())
}

func TestRender_UnknownFormat(t *testing.T) {
	err := renderTo(&bytes.Buffer{}, "xml", sampleTable())
	assert.ErrorContains(t, err, "unknown output format 'xml'")
}

func TestNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderTo(&buf, "table", names([]string{"ext-net", "public"})))
	assert.Equal(t, "NAME\next-net\npublic\n", buf.String())
}

func TestOrDash(t *testing.T) {
	assert.Equal(t, "-", orDash(""))
	assert.Equal(t, "fd00::10", orDash("fd00::10"))
}
