package classifiers

import (
	"context"
	"testing"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/engine"
)

func TestHeuristicClassifier_Classify(t *testing.T) {
	c := NewHeuristicClassifier()
	ctx := context.Background()

	tests := []struct {
		name string
		text string
		want engine.CategoryScores
	}{
		{"direct threat", "I will kill you", engine.CategoryScores{engine.CategoryThreat: 0.9, engine.CategoryViolence: 0.7}},
		{"spam", "Click here for free stuff", engine.CategoryScores{engine.CategorySpam: 0.6}},
		{"insult", "you are stupid", engine.CategoryScores{engine.CategoryHateSpeech: 0.8}},
		{"profanity", "this is shit", engine.CategoryScores{engine.CategoryProfanity: 0.6}},
		{"solicitation", "send nudes", engine.CategoryScores{engine.CategorySexual: 0.8}},
		{"shouting", "THIS IS AWFUL", engine.CategoryScores{engine.CategoryHateSpeech: 0.5}},
		{"exclamations", "what!!!!", engine.CategoryScores{engine.CategoryProfanity: 0.5}},
		{"benign", "Lovely weather for a walk", engine.CategoryScores{}},
		{"empty", "", engine.CategoryScores{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(ctx, tt.text)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, cat := range engine.HarmfulCategories {
				if got[cat] != tt.want[cat] {
					t.Errorf("%s = %v, want %v", cat, got[cat], tt.want[cat])
				}
			}
		})
	}
}

func TestHeuristicClassifier_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewHeuristicClassifier().Classify(ctx, "hello"); err == nil {
		t.Error("expected context error")
	}
}

func TestPostprocess_RaisesOnly(t *testing.T) {
	in := engine.CategoryScores{engine.CategoryThreat: 0.95, engine.CategoryViolence: 0.2}
	got := Postprocess(in, "I will hurt you")

	if got[engine.CategoryThreat] != 0.95 {
		t.Errorf("threat must not be lowered, got %v", got[engine.CategoryThreat])
	}
	if got[engine.CategoryViolence] != 0.7 {
		t.Errorf("violence should be raised to 0.7, got %v", got[engine.CategoryViolence])
	}
	if in[engine.CategoryViolence] != 0.2 {
		t.Error("input mutated")
	}
}

func TestPostprocess_DegenerateRescale(t *testing.T) {
	in := engine.CategoryScores{
		engine.CategorySexual:   1,
		engine.CategoryThreat:   0.99,
		engine.CategoryViolence: 0.98,
		engine.CategorySpam:     0.03,
	}
	got := Postprocess(in, "")

	// sum = 3.0
	want := map[engine.Category]float64{
		engine.CategorySexual:   0.3333,
		engine.CategoryThreat:   0.33,
		engine.CategoryViolence: 0.3267,
		engine.CategorySpam:     0.01,
	}
	for cat, v := range want {
		if got[cat] != v {
			t.Errorf("%s = %v, want %v", cat, got[cat], v)
		}
	}
}

func TestPostprocess_TwoHighScoresKept(t *testing.T) {
	in := engine.CategoryScores{engine.CategorySexual: 1, engine.CategoryThreat: 0.99}
	got := Postprocess(in, "")
	if got[engine.CategorySexual] != 1 || got[engine.CategoryThreat] != 0.99 {
		t.Errorf("rescale should need three high scores, got %v", got)
	}
}

func TestPostprocess_ClampsAndRounds(t *testing.T) {
	in := engine.CategoryScores{engine.CategorySpam: 1.4, engine.CategoryProfanity: 0.123456, engine.CategorySexual: -1}
	got := Postprocess(in, "")
	if got[engine.CategorySpam] != 1 || got[engine.CategoryProfanity] != 0.1235 || got[engine.CategorySexual] != 0 {
		t.Errorf("unexpected result %v", got)
	}
}

func BenchmarkHeuristicClassifier(b *testing.B) {
	c := NewHeuristicClassifier()
	ctx := context.Background()
	text := "Click here to WIN a free prize or I will kill you!!!!"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Classify(ctx, text)
	}
}
