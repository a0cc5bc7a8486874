package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_Render(t *testing.T) {
	var out bytes.Buffer
	u := New(&out, &out)

	table := u.NewTable("ID", "STATE")
	table.AddRow("database", "running")
	table.AddRow("api")
	table.Render()

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "ID")
	assert.Contains(t, lines[1], "┼")
	assert.Contains(t, lines[2], "database │ running")
	assert.True(t, strings.HasPrefix(lines[3], "api      │"))
}

func TestTable_NoHeaders(t *testing.T) {
	var out bytes.Buffer
	New(&out, &out).NewTable().Render()
	assert.Empty(t, out.String())
}

func TestUI_ErrorGoesToErr(t *testing.T) {
	var out, errOut bytes.Buffer
	u := New(&out, &errOut)
	u.Error("boom")
	u.Success("ok")
	u.Warning("careful")
	u.Info("fyi")

	assert.Contains(t, errOut.String(), "boom")
	assert.NotContains(t, out.String(), "boom")
	assert.Contains(t, out.String(), "ok")
	assert.Contains(t, out.String(), "careful")
	assert.Contains(t, out.String(), "fyi")
	assert.NotContains(t, errOut.String(), "careful")
}
