package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ResolvesWorkbookPath(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "local_edit_survives.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "local_edit_survives", s.Name)
	assert.Equal(t, filepath.Join("testdata", "workbooks", "content.cue"), s.Workbook)
	require.Len(t, s.Remote["articles"], 1)
	assert.Equal(t, "rec_1", s.Remote["articles"][0].RemoteID)
	require.Len(t, s.Flow, 5)
	assert.Equal(t, OpSetField, s.Flow[1].Op)
	assert.Equal(t, "rec_1", s.Flow[1].Record.RemoteID)
	assert.Equal(t, "1 of 1 tables synced", s.Flow[0].Expect.Summary)
}

func TestLoadScenario_MissingWorkbook(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: x
description: d
workbook: nowhere.cue
flow: [{op: sync}]
`), 0o600))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workbook not found")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name:   "unknown field",
			yaml:   "name: x\ndescription: d\nworkbook: w.cue\nflow: [{op: sync}]\nassertion: []\n",
			errMsg: "failed to parse YAML",
		},
		{
			name:   "missing name",
			yaml:   "description: d\nworkbook: w.cue\nflow: [{op: sync}]\n",
			errMsg: "name is required",
		},
		{
			name:   "missing workbook",
			yaml:   "name: x\ndescription: d\nflow: [{op: sync}]\n",
			errMsg: "workbook is required",
		},
		{
			name:   "empty flow",
			yaml:   "name: x\ndescription: d\nworkbook: w.cue\nflow: []\n",
			errMsg: "flow list is required",
		},
		{
			name:   "unknown op",
			yaml:   "name: x\ndescription: d\nworkbook: w.cue\nflow: [{op: teleport}]\n",
			errMsg: `unknown op "teleport"`,
		},
		{
			name:   "cell op without column",
			yaml:   "name: x\ndescription: d\nworkbook: w.cue\nflow: [{op: set_field, table: t, record: {remote_id: r}}]\n",
			errMsg: "requires table, record and column",
		},
		{
			name:   "accept without cells",
			yaml:   "name: x\ndescription: d\nworkbook: w.cue\nflow: [{op: accept, table: t}]\n",
			errMsg: "requires table and cells",
		},
		{
			name:   "record assertion without expect",
			yaml:   "name: x\ndescription: d\nworkbook: w.cue\nflow: [{op: sync}]\nassertions: [{type: record, table: t, record: {remote_id: r}}]\n",
			errMsg: "expect is required",
		},
		{
			name:   "unknown assertion",
			yaml:   "name: x\ndescription: d\nworkbook: w.cue\nflow: [{op: sync}]\nassertions: [{type: trace_order}]\n",
			errMsg: "unknown assertion type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRecordRef(t *testing.T) {
	assert.True(t, RecordRef{}.IsZero())
	assert.Equal(t, "ws_0001", RecordRef{WsID: "ws_0001", RemoteID: "rec_1"}.String())
	assert.Equal(t, "remote:rec_1", RecordRef{RemoteID: "rec_1"}.String())
}
