// Package neighbors retrieves the sentences used as tagging context for a
// query sentence.
package neighbors

import "fmt"

// Strategy is either Ranked or Random. It is fixed when a Retriever is built.
type Strategy interface {
	budget() int
	String() string
}

// Ranked takes true nearest neighbors: the Pool best-scoring sentences are
// scanned in order and up to K that fit the token budget are kept.
type Ranked struct {
	K      int
	Pool   int
	Budget int
}

func (r Ranked) budget() int { return r.Budget }

func (r Ranked) String() string {
	return fmt.Sprintf("ranked(k=%d, pool=%d, budget=%d)", r.K, r.pool(), r.Budget)
}

func (r Ranked) pool() int {
	if r.Pool < r.K {
		return r.K
	}
	return r.Pool
}

// Random samples N sentences uniformly from the corpus. The sample is a
// function of Seed, the snapshot version and the query key, so reruns
// reproduce it.
type Random struct {
	N      int
	Budget int
	Seed   int64
}

func (r Random) budget() int { return r.Budget }

func (r Random) String() string {
	return fmt.Sprintf("random(n=%d, budget=%d, seed=%d)", r.N, r.Budget, r.Seed)
}

// ForTraining picks the training strategy: k = min(topk, sentences) either
// ranked or random.
func ForTraining(topk, sentences, budget int, random bool, seed int64) Strategy {
	k := min(topk, sentences)
	if random {
		return Random{N: k, Budget: budget, Seed: seed}
	}
	return Ranked{K: k, Pool: topk, Budget: budget}
}

// ForEvaluation always ranks.
func ForEvaluation(topk, sentences, budget int) Strategy {
	return Ranked{K: min(topk, sentences), Pool: topk, Budget: budget}
}
