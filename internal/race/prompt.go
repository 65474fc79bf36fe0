package race

import (
	"math/rand/v2"
	"strings"
)

// Word pools per difficulty. Kept short on purpose; the external text
// service owns the real corpora and this provider mirrors its behavior.
var wordPools = map[string][]string{
	"easy": {
		"the", "and", "for", "are", "but", "not", "you", "all", "can", "her",
		"was", "one", "our", "out", "day", "get", "has", "him", "his", "how",
		"man", "new", "now", "old", "see", "two", "way", "who", "boy", "did",
		"its", "let", "put", "say", "she", "too", "use", "run", "sun", "top",
	},
	"medium": {
		"people", "history", "example", "company", "problem", "service",
		"program", "question", "government", "different", "between", "number",
		"through", "important", "sentence", "thought", "develop", "interest",
		"picture", "country", "mountain", "together", "children", "complete",
		"remember", "possible", "building", "morning", "evening", "station",
		"however", "believe", "another", "science", "special", "general",
	},
	"hard": {
		"bureaucracy", "juxtaposition", "quintessential", "paraphernalia",
		"idiosyncrasy", "perpendicular", "reconnaissance", "entrepreneur",
		"miscellaneous", "pharmaceutical", "chrysanthemum", "onomatopoeia",
		"surreptitious", "conscientious", "unprecedented", "sophisticated",
		"infrastructure", "characteristic", "simultaneously", "approximately",
		"archaeological", "circumstantial", "distinguishable", "extraordinary",
	},
}

const (
	customTextMin    = 50
	customTextMax    = 500
	defaultWordCount = 25
	maxWordCount     = 100
	minWordCount     = 5
	sprintWordCount  = 15
)

// resolvePrompt derives the race prompt from the settings and records the
// source mode for rematch fidelity. Custom text must be 50-500 trimmed
// characters, otherwise it falls back to word count, then difficulty. The
// sprint modifier overrides any requested word count with a fixed short
// race.
func resolvePrompt(s Settings, sprint bool, rng *rand.Rand) (prompt string, source SourceMode) {
	if text := strings.TrimSpace(s.CustomText); len(text) >= customTextMin && len(text) <= customTextMax {
		return text, SourceCustom
	}

	if sprint {
		return generateWords(s.Difficulty, sprintWordCount, rng), SourceWordCount
	}
	if s.WordCount > 0 {
		return generateWords(s.Difficulty, clampWordCount(s.WordCount), rng), SourceWordCount
	}
	return generateWords(s.Difficulty, defaultWordCount, rng), SourceDifficulty
}

func clampWordCount(n int) int {
	if n < minWordCount {
		return minWordCount
	}
	if n > maxWordCount {
		return maxWordCount
	}
	return n
}

func generateWords(difficulty string, count int, rng *rand.Rand) string {
	pool, ok := wordPools[difficulty]
	if !ok {
		pool = wordPools["medium"]
	}
	words := make([]string, count)
	for i := range words {
		words[i] = pool[rng.IntN(len(pool))]
	}
	return strings.Join(words, " ")
}
