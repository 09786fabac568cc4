package phonetic_test

import (
	"testing"

	"github.com/MrWong99/livescribe/internal/transcript/phonetic"
)

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	vocab := []string{"Eldrinax", "Grimjaw", "Tower of Whispers", "John"}
	tests := []struct {
		name    string
		phrase  string
		want    string
		matched bool
		minConf float64
	}{
		{"split phrase to one term", "elder nacks", "Eldrinax", true, 0.7},
		{"multi word term", "tower of wispers", "Tower of Whispers", true, 0.7},
		{"same sound", "jon", "John", true, 0.9},
		{"exact ignores case", "GRIMJAW", "Grimjaw", true, 0.99},
		{"ordinary word untouched", "hello", "hello", false, 0},
		{"blank", "", "", false, 0},
	}
	m := phonetic.New()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, conf, ok := m.Match(tc.phrase, vocab)
			if ok != tc.matched || got != tc.want {
				t.Fatalf("Match(%q) = %q, %v; want %q, %v", tc.phrase, got, ok, tc.want, tc.matched)
			}
			if tc.matched && conf < tc.minConf {
				t.Errorf("confidence = %f, want >= %f", conf, tc.minConf)
			}
			if !tc.matched && conf != 0 {
				t.Errorf("confidence = %f for a miss, want 0", conf)
			}
		})
	}
}

func TestMatcher_StrictThresholdsReject(t *testing.T) {
	t.Parallel()

	m := phonetic.New(phonetic.WithPhoneticThreshold(0.99), phonetic.WithFuzzyThreshold(0.99))
	if _, _, ok := m.Match("elder nacks", []string{"Eldrinax"}); ok {
		t.Error("near match accepted with 0.99 thresholds")
	}
}

func TestMatcher_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	got, conf, ok := phonetic.New().Match("eldrinax", nil)
	if ok || got != "eldrinax" || conf != 0 {
		t.Errorf("Match with no terms = %q, %f, %v", got, conf, ok)
	}
}

func TestPrepare(t *testing.T) {
	t.Parallel()

	v := phonetic.Prepare([]string{"  ", "Grimjaw", " Tower of Whispers "})
	if v.Len() != 2 {
		t.Errorf("Len = %d, want 2 (blank skipped)", v.Len())
	}
	if v.MaxWords() != 3 {
		t.Errorf("MaxWords = %d, want 3", v.MaxWords())
	}
	got, _, ok := phonetic.New().MatchVocabulary("tower of whispers", v)
	if !ok || got != "Tower of Whispers" {
		t.Errorf("MatchVocabulary = %q, %v; want trimmed canonical term", got, ok)
	}
}
