// Package eval scores predicted tag sequences against gold ones.
package eval

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Metrics are word accuracy and span precision, recall and F1.
type Metrics struct {
	Words   int
	Correct int

	GoldSpans      int
	PredictedSpans int
	MatchedSpans   int

	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
}

// Primary is the model selection score: F1 when the tag set has spans,
// accuracy otherwise.
func (m Metrics) Primary(spans bool) float64 {
	if spans {
		return m.F1
	}
	return m.Accuracy
}

func (m Metrics) String() string {
	return fmt.Sprintf("acc=%.4f p=%.4f r=%.4f f1=%.4f (%d words, %d gold spans)",
		m.Accuracy, m.Precision, m.Recall, m.F1, m.Words, m.GoldSpans)
}

// MarshalLogObject lets metrics be logged with zap.Object.
func (m Metrics) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("words", m.Words)
	enc.AddFloat64("accuracy", m.Accuracy)
	enc.AddFloat64("precision", m.Precision)
	enc.AddFloat64("recall", m.Recall)
	enc.AddFloat64("f1", m.F1)
	enc.AddInt("gold_spans", m.GoldSpans)
	enc.AddInt("predicted_spans", m.PredictedSpans)
	return nil
}

// Scorer accumulates counts over sentences. The zero value is not usable;
// see NewScorer.
type Scorer struct {
	names []string
	m     Metrics
}

// NewScorer returns a scorer for tag ids indexing names.
func NewScorer(names []string) *Scorer {
	return &Scorer{names: names}
}

// Add scores one sentence. Words whose mask is false are left out of
// accuracy and read as O for span extraction, so no chunk spans them.
func (s *Scorer) Add(pred, gold []int, mask []bool) error {
	if len(pred) != len(gold) || len(mask) != len(gold) {
		return fmt.Errorf("eval: %d predictions, %d gold tags, %d mask entries", len(pred), len(gold), len(mask))
	}
	p := make([]string, len(gold))
	g := make([]string, len(gold))
	for i := range gold {
		if !mask[i] {
			p[i], g[i] = "O", "O"
			continue
		}
		s.m.Words++
		if pred[i] == gold[i] {
			s.m.Correct++
		}
		p[i] = s.name(pred[i])
		g[i] = s.name(gold[i])
	}
	gs, ps := Chunks(g), Chunks(p)
	s.m.GoldSpans += len(gs)
	s.m.PredictedSpans += len(ps)
	set := make(map[Chunk]struct{}, len(gs))
	for _, c := range gs {
		set[c] = struct{}{}
	}
	for _, c := range ps {
		if _, ok := set[c]; ok {
			s.m.MatchedSpans++
		}
	}
	return nil
}

func (s *Scorer) name(id int) string {
	if id < 0 || id >= len(s.names) {
		return "O"
	}
	return s.names[id]
}

// Metrics returns the scores so far.
func (s *Scorer) Metrics() Metrics {
	m := s.m
	m.Accuracy = ratio(m.Correct, m.Words)
	m.Precision = ratio(m.MatchedSpans, m.PredictedSpans)
	m.Recall = ratio(m.MatchedSpans, m.GoldSpans)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

// Score is a one-shot Scorer over parallel sentence slices.
func Score(names []string, pred, gold [][]int, masks [][]bool) (Metrics, error) {
	s := NewScorer(names)
	for i := range gold {
		if err := s.Add(pred[i], gold[i], masks[i]); err != nil {
			return Metrics{}, fmt.Errorf("sentence %d: %w", i, err)
		}
	}
	return s.Metrics(), nil
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
