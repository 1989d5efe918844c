package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/territory-intel/internal/model"
	"github.com/sells-group/territory-intel/internal/store"
)

func TestShortID(t *testing.T) {
	assert.Equal(t, "1b4e28ba", shortID("1b4e28ba-2fa1-11d2-883f-0016d3cca427"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestFormatRuns(t *testing.T) {
	started := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
	completed := started.Add(95 * time.Second)

	runs := []store.Run{
		{
			ID:          "1b4e28ba-2fa1-11d2-883f-0016d3cca427",
			StartedAt:   started,
			CompletedAt: &completed,
			Stats:       store.RunStats{Discovered: 40, NewPlaces: 12, Enriched: 8, Classified: 5, Exported: 40},
		},
		{
			ID:        "deadbeef-0000-0000-0000-000000000000",
			StartedAt: started,
		},
		{
			ID:          "cafebabe-0000-0000-0000-000000000000",
			StartedAt:   started,
			CompletedAt: &completed,
			Error:       model.StringPtr("context deadline exceeded"),
		},
	}

	var sb strings.Builder
	formatRuns(&sb, runs)
	out := sb.String()

	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, "1b4e28ba")
	assert.Contains(t, out, "2026-08-25 14:30")
	assert.Contains(t, out, "1m35s")
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "failed: context deadline exceeded")
	assert.NotContains(t, out, "1b4e28ba-2fa1")
}

func TestRootSubcommands(t *testing.T) {
	want := []string{"run", "discover", "enrich", "classify", "score", "export", "init", "status", "serve"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		assert.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}
