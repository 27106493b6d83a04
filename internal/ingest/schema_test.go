package ingest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_Decode(t *testing.T) {
	d, err := NewDecoder()
	require.NoError(t, err)

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "minimal",
			body: `{"agent_info":{"id":"a1","hostname":"h1"}}`,
		},
		{
			name: "full agent report",
			body: `{
				"agent_info":{"id":"a1","hostname":"h1","platform":"Linux","architecture":"x86_64","os_release":"6.1","version":"1.0.0"},
				"metrics":{"cpu":{"percent":12.5,"count":8},"memory":{"percent":40.1},"disk":{"percent":70},"network":{"connections":42}},
				"threats":[{"id":"T1","type":"suspicious_process","severity":"high","title":"x","description":"y","timestamp":"2026-01-01T00:00:00","source":"process_monitor"}],
				"processes":[{"pid":1,"name":"init","username":null,"cpu_percent":0.1,"memory_percent":null}]
			}`,
		},
		{
			name: "threat without id passes schema",
			body: `{"agent_info":{"id":"a1","hostname":"h1"},"threats":[{"severity":"low"}]}`,
		},
		{name: "empty body", body: ``, wantErr: true},
		{name: "not json", body: `agent_info=a1`, wantErr: true},
		{name: "missing agent_info", body: `{"metrics":{}}`, wantErr: true},
		{name: "missing hostname", body: `{"agent_info":{"id":"a1"}}`, wantErr: true},
		{name: "empty id", body: `{"agent_info":{"id":"","hostname":"h1"}}`, wantErr: true},
		{name: "metrics not an object", body: `{"agent_info":{"id":"a1","hostname":"h1"},"metrics":"high"}`, wantErr: true},
		{name: "cpu percent as string", body: `{"agent_info":{"id":"a1","hostname":"h1"},"metrics":{"cpu":{"percent":"50"}}}`, wantErr: true},
		{name: "processes not an array", body: `{"agent_info":{"id":"a1","hostname":"h1"},"processes":{"pid":1}}`, wantErr: true},
		{name: "threats not an array", body: `{"agent_info":{"id":"a1","hostname":"h1"},"threats":"none"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := d.Decode([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidPayload), "expected ErrInvalidPayload, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a1", payload.AgentInfo.ID)
		})
	}
}

func TestDecoder_KeepsRawMetrics(t *testing.T) {
	d, err := NewDecoder()
	require.NoError(t, err)

	payload, err := d.Decode([]byte(`{"agent_info":{"id":"a1","hostname":"h1"},"metrics":{"cpu":{"percent":50},"uptime":1234}}`))
	require.NoError(t, err)
	assert.True(t, payload.HasMetrics())
	assert.JSONEq(t, `{"cpu":{"percent":50},"uptime":1234}`, string(payload.Metrics))
}

func TestDecoder_ErrorNamesLocation(t *testing.T) {
	d, err := NewDecoder()
	require.NoError(t, err)

	_, err = d.Decode([]byte(`{"agent_info":{"id":"a1","hostname":"h1"},"metrics":{"memory":{"percent":"full"}}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/metrics/memory/percent")
}

func TestDecoder_SkipsMalformedEntries(t *testing.T) {
	d, err := NewDecoder()
	require.NoError(t, err)

	payload, err := d.Decode([]byte(`{
		"agent_info":{"id":"a1","hostname":"h1"},
		"threats":[
			{"id":42,"severity":"high"},
			{"id":"ok","severity":"low"},
			"T3",
			null,
			{"id":"T5","title":["x"]}
		],
		"processes":[
			{"pid":"one","name":"bad"},
			{"pid":7,"name":"good"},
			{"pid":1.5},
			12
		]
	}`))
	require.NoError(t, err)

	require.Len(t, payload.Threats, 1)
	assert.Equal(t, "ok", payload.Threats[0].ID)
	assert.Equal(t, 4, payload.MalformedThreats)
	assert.Equal(t, 5, payload.ThreatsReported())

	require.Len(t, payload.Processes, 1)
	assert.Equal(t, 7, payload.Processes[0].PID)
	assert.Equal(t, 3, payload.MalformedProcesses)
}

func TestDecoder_NullListsAreEmpty(t *testing.T) {
	d, err := NewDecoder()
	require.NoError(t, err)

	payload, err := d.Decode([]byte(`{"agent_info":{"id":"a1","hostname":"h1"},"threats":null,"processes":null}`))
	require.NoError(t, err)
	assert.Empty(t, payload.Threats)
	assert.Empty(t, payload.Processes)
	assert.Zero(t, payload.MalformedThreats)
	assert.Zero(t, payload.MalformedProcesses)
}
