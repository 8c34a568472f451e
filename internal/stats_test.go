package internal

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestStatsCountersAndLogObject(t *testing.T) {
	stats := NewStats()
	stats.IncInbound()
	stats.IncInbound()
	stats.IncOutbound()
	stats.IncMalformed()
	stats.IncStale()
	stats.IncUngated()
	stats.IncUngated()

	snapshot := stats.Snapshot()
	want := map[string]uint64{
		"inbound_total":     2,
		"outbound_total":    1,
		"dropped_malformed": 1,
		"dropped_stale":     1,
		"dropped_ungated":   2,
	}
	for key, value := range want {
		if snapshot[key] != value {
			t.Fatalf("%s = %d, want %d", key, snapshot[key], value)
		}
	}

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Info().Object("stats", stats).Msg("exit")
	var line struct {
		Stats map[string]uint64 `json:"stats"`
	}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line: %v", err)
	}
	if line.Stats["dropped_ungated"] != 2 || len(line.Stats) != len(want) {
		t.Fatalf("logged stats = %v", line.Stats)
	}
}
