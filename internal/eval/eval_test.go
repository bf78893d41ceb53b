package eval

import (
	"math"
	"reflect"
	"testing"
)

func TestChunks(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want []Chunk
	}{
		{"bio", []string{"B-PER", "I-PER", "O", "B-LOC"}, []Chunk{{0, 2, "PER"}, {3, 4, "LOC"}}},
		{"iob1", []string{"I-ORG", "I-ORG", "B-ORG", "O"}, []Chunk{{0, 2, "ORG"}, {2, 3, "ORG"}}},
		{"type change", []string{"I-PER", "I-LOC"}, []Chunk{{0, 1, "PER"}, {1, 2, "LOC"}}},
		{"bioes", []string{"S-PER", "B-LOC", "E-LOC", "O"}, []Chunk{{0, 1, "PER"}, {1, 3, "LOC"}}},
		{"all outside", []string{"O", "O"}, nil},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Chunks(tt.tags); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Chunks(%v) = %v, want %v", tt.tags, got, tt.want)
			}
		})
	}
}

func TestScorerExcludesMaskedWords(t *testing.T) {
	names := []string{"O", "B-PER", "I-PER"}
	s := NewScorer(names)
	// Word 2 is masked: its wrong prediction counts nowhere.
	if err := s.Add([]int{1, 2, 0, 0}, []int{1, 2, 1, 0}, []bool{true, true, false, true}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	m := s.Metrics()
	if m.Words != 3 || m.Correct != 3 || m.Accuracy != 1 {
		t.Fatalf("accuracy metrics = %+v", m)
	}
	if m.GoldSpans != 1 || m.MatchedSpans != 1 || m.F1 != 1 {
		t.Fatalf("span metrics = %+v", m)
	}
}

func TestMaskedWordBreaksSpans(t *testing.T) {
	names := []string{"O", "B-PER", "I-PER"}
	s := NewScorer(names)
	// B-PER [masked] I-PER is two chunks, not one spanning the hole.
	if err := s.Add([]int{1, 2, 2}, []int{1, 2, 2}, []bool{true, false, true}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	m := s.Metrics()
	if m.GoldSpans != 2 || m.PredictedSpans != 2 || m.MatchedSpans != 2 {
		t.Fatalf("spans = %+v, want two separate chunks", m)
	}

	// A prediction bridging the hole must not match a gold chunk ending before it.
	s = NewScorer(names)
	if err := s.Add([]int{1, 0, 2}, []int{1, 2, 0}, []bool{true, false, true}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	m = s.Metrics()
	if m.GoldSpans != 1 || m.PredictedSpans != 2 || m.MatchedSpans != 1 {
		t.Fatalf("spans = %+v", m)
	}
}

func TestScore(t *testing.T) {
	names := []string{"O", "B-LOC", "I-LOC"}
	pred := [][]int{{1, 0, 0}, {1, 1}}
	gold := [][]int{{1, 2, 0}, {1, 1}}
	masks := [][]bool{{true, true, true}, {true, true}}

	m, err := Score(names, pred, gold, masks)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if m.Words != 5 || m.Correct != 4 {
		t.Fatalf("words=%d correct=%d", m.Words, m.Correct)
	}
	// Gold: [0,2) and two singletons; predicted: three singletons.
	if m.GoldSpans != 3 || m.PredictedSpans != 3 || m.MatchedSpans != 2 {
		t.Fatalf("spans = %+v", m)
	}
	want := 2.0 / 3
	if math.Abs(m.F1-want) > 1e-12 || m.Primary(true) != m.F1 || m.Primary(false) != m.Accuracy {
		t.Fatalf("F1 = %f, want %f", m.F1, want)
	}

	if _, err := Score(names, [][]int{{0}}, [][]int{{0, 1}}, [][]bool{{true, true}}); err == nil {
		t.Fatalf("Score accepted mismatched lengths")
	}
}

func TestEmptyScorer(t *testing.T) {
	m := NewScorer(nil).Metrics()
	if m.Accuracy != 0 || m.F1 != 0 {
		t.Fatalf("empty metrics = %+v", m)
	}
}
