package race

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// burst returns n keystroke timestamps spaced gap ms apart.
func burst(n int, gap int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i) * gap
	}
	return out
}

func TestSuspiciousPaste(t *testing.T) {
	ac := DefaultAntiCheat()
	assert.True(t, ac.Suspicious(60, Telemetry{PasteEvents: 1}))
	assert.False(t, ac.Suspicious(60, Telemetry{}))
}

func TestSuspiciousWPMCeiling(t *testing.T) {
	ac := DefaultAntiCheat()
	assert.False(t, ac.Suspicious(250, Telemetry{}))
	assert.True(t, ac.Suspicious(251, Telemetry{}))

	ac.WPMCeiling = 120
	assert.True(t, ac.Suspicious(130, Telemetry{}))
}

func TestSuspiciousKeystrokeTiming(t *testing.T) {
	ac := DefaultAntiCheat()

	tests := []struct {
		name       string
		timestamps []int64
		want       bool
	}{
		{"humanly fast", burst(20, 120), false},
		{"inhumanly fast", burst(20, 20), true},
		{"too few samples", burst(9, 20), false},
		{"exactly at floor", burst(20, 40), false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ac.Suspicious(60, Telemetry{KeystrokeTimestamps: tt.timestamps}))
		})
	}
}

func TestPausesAreNotSignal(t *testing.T) {
	ac := DefaultAntiCheat()

	// Normal typing interrupted by long thinking pauses: the 2s+ gaps are
	// excluded from the average instead of diluting it.
	ts := []int64{0, 100, 200, 300, 3000, 3100, 3200, 3300, 9000, 9100, 9200}
	assert.False(t, ac.Suspicious(60, Telemetry{KeystrokeTimestamps: ts}))

	// A bot burst around pauses is still caught.
	bot := []int64{0, 10, 20, 30, 40, 5000, 5010, 5020, 5030, 5040, 5050}
	assert.True(t, ac.Suspicious(60, Telemetry{KeystrokeTimestamps: bot}))
}

func TestOnlyGapsCount(t *testing.T) {
	ac := DefaultAntiCheat()
	// All gaps excluded as pauses: no signal, no flag.
	ts := burst(12, 2500)
	assert.False(t, ac.Suspicious(60, Telemetry{KeystrokeTimestamps: ts}))
}
