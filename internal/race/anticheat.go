package race

// AntiCheat holds the heuristic thresholds. They are tuned empirically and
// configurable rather than proof of anything; a flag is a policy signal,
// not a request failure.
type AntiCheat struct {
	// WPMCeiling flags any computed WPM above this value.
	WPMCeiling int
	// MinAvgIntervalMs flags keystroke bursts whose average inter-key
	// interval falls below this floor.
	MinAvgIntervalMs float64
	// SampleMin is the minimum number of keystroke timestamps required
	// before timing analysis applies.
	SampleMin int
	// PauseGapMs excludes gaps at or above this value from the average;
	// they are pauses, not signal.
	PauseGapMs int64
}

func DefaultAntiCheat() AntiCheat {
	return AntiCheat{
		WPMCeiling:       250,
		MinAvgIntervalMs: 40,
		SampleMin:        10,
		PauseGapMs:       2000,
	}
}

// Suspicious evaluates one accepted progress update. Any single heuristic
// tripping is enough.
func (ac AntiCheat) Suspicious(wpm int, t Telemetry) bool {
	if t.PasteEvents > 0 {
		return true
	}
	if wpm > ac.WPMCeiling {
		return true
	}
	return ac.burstTooFast(t.KeystrokeTimestamps)
}

func (ac AntiCheat) burstTooFast(timestamps []int64) bool {
	if len(timestamps) < ac.SampleMin {
		return false
	}
	var sum float64
	var n int
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i] - timestamps[i-1]
		if gap < 0 || gap >= ac.PauseGapMs {
			continue
		}
		sum += float64(gap)
		n++
	}
	if n == 0 {
		return false
	}
	return sum/float64(n) < ac.MinAvgIntervalMs
}
