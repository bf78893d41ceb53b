package neighbors

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/headlands-org/nntagger/internal/dataset"
	"github.com/headlands-org/nntagger/internal/errs"
	"github.com/headlands-org/nntagger/internal/index"
	"github.com/headlands-org/nntagger/search"
)

// Neighbor is one retrieved sentence.
type Neighbor struct {
	Key dataset.Key
	// Example is nil when the snapshot has no examples attached.
	Example *dataset.Example
	Pos     int
	Score   float32
	Tokens  int
}

// Set is the context retrieved for one query, best first. It never holds
// the query itself and its Tokens never exceed the strategy budget.
type Set struct {
	Query     dataset.Key
	Neighbors []Neighbor
	Tokens    int
}

// Len returns the number of neighbors.
func (s Set) Len() int { return len(s.Neighbors) }

// Stats counts retrieval outcomes since the last Reset.
type Stats struct {
	Queries int64
	// Degraded counts queries left with no neighbors because nothing fit
	// the token budget.
	Degraded int64
	// Dropped counts candidates skipped for exceeding the remaining budget.
	Dropped int64
}

// Retriever answers neighbor queries against a snapshot.
type Retriever struct {
	strategy  Strategy
	enc       index.Embedder
	chunkSize int
	workers   int
	log       *zap.Logger

	queries  atomic.Int64
	degraded atomic.Int64
	dropped  atomic.Int64
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithChunkSize sets how many queries RetrieveAll hands to one worker.
func WithChunkSize(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// WithWorkers bounds the chunks RetrieveAll processes at once.
func WithWorkers(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.log = l
		}
	}
}

// New returns a retriever. enc embeds queries that are not part of the
// snapshot.
func New(strategy Strategy, enc index.Embedder, opts ...Option) *Retriever {
	r := &Retriever{
		strategy:  strategy,
		enc:       enc,
		chunkSize: 128,
		workers:   1,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Strategy returns the configured strategy.
func (r *Retriever) Strategy() Strategy { return r.strategy }

// Stats returns the counters.
func (r *Retriever) Stats() Stats {
	return Stats{Queries: r.queries.Load(), Degraded: r.degraded.Load(), Dropped: r.dropped.Load()}
}

// ResetStats zeroes the counters.
func (r *Retriever) ResetStats() {
	r.queries.Store(0)
	r.degraded.Store(0)
	r.dropped.Store(0)
}

// Retrieve returns the neighbor set of query.
func (r *Retriever) Retrieve(ctx context.Context, query *dataset.Example, snap *index.Snapshot) (Set, error) {
	if err := ctx.Err(); err != nil {
		return Set{}, err
	}
	r.queries.Add(1)
	set := Set{Query: query.Key()}
	if snap.Len() == 0 {
		return set, nil
	}

	self, inSnapshot := snap.Position(query.Key())
	var vec []float32
	if inSnapshot {
		vec = snap.Embedding(self)
	} else {
		if v := r.enc.Version(); v != snap.Version() {
			return set, fmt.Errorf("neighbors: snapshot version %d is stale, encoder is at %d", snap.Version(), v)
		}
		vec = r.enc.SentenceEmbedding(query.Encoding.IDs)
	}

	var cands []index.Candidate
	var err error
	switch s := r.strategy.(type) {
	case Ranked:
		cands, err = r.ranked(snap, vec, s, self, inSnapshot)
	case Random:
		cands, err = r.random(snap, vec, s, query.Key(), self, inSnapshot)
	default:
		err = fmt.Errorf("neighbors: unknown strategy %T", r.strategy)
	}
	if err != nil {
		return set, err
	}

	limit := len(cands)
	if s, ok := r.strategy.(Ranked); ok {
		limit = s.K
	}
	r.truncate(&set, snap, cands, limit)
	return set, nil
}

func (r *Retriever) ranked(snap *index.Snapshot, vec []float32, s Ranked, self int, inSnapshot bool) ([]index.Candidate, error) {
	if s.K <= 0 {
		return nil, nil
	}
	var opts []search.SearchOption
	if inSnapshot {
		opts = append(opts, search.WithExclude(int32(self)))
	}
	return snap.Search(vec, s.pool(), opts...)
}

func (r *Retriever) random(snap *index.Snapshot, vec []float32, s Random, key dataset.Key, self int, inSnapshot bool) ([]index.Candidate, error) {
	pool := snap.Len()
	if inSnapshot {
		pool--
	}
	n := min(s.N, pool)
	if n <= 0 {
		return nil, nil
	}

	rng := rand.New(rand.NewSource(sampleSeed(s.Seed, snap.Version(), key)))
	picked := sampleDistinct(rng, pool, n)

	all, err := snap.Query(vec)
	if err != nil {
		return nil, err
	}
	scores := make([]float32, snap.Len())
	for _, c := range all {
		scores[c.Pos] = c.Score
	}
	out := make([]index.Candidate, n)
	for i, p := range picked {
		// Positions past the query shift up by one to skip it.
		if inSnapshot && p >= self {
			p++
		}
		out[i] = index.Candidate{Pos: p, Score: scores[p]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Pos < out[j].Pos
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

// truncate walks cands in order, keeping each candidate that fits the
// remaining budget until limit are kept. A candidate larger than the
// remaining budget is dropped whole and the walk continues.
func (r *Retriever) truncate(set *Set, snap *index.Snapshot, cands []index.Candidate, limit int) {
	budget := r.strategy.budget()
	dropped := 0
	for _, c := range cands {
		if len(set.Neighbors) >= limit {
			break
		}
		entry := snap.Entry(c.Pos)
		if entry.Key == set.Query {
			continue
		}
		if set.Tokens+entry.Tokens > budget {
			dropped++
			continue
		}
		set.Neighbors = append(set.Neighbors, Neighbor{
			Key:     entry.Key,
			Example: snap.Example(c.Pos),
			Pos:     c.Pos,
			Score:   c.Score,
			Tokens:  entry.Tokens,
		})
		set.Tokens += entry.Tokens
	}
	r.dropped.Add(int64(dropped))
	if len(set.Neighbors) == 0 && len(cands) > 0 {
		r.degraded.Add(1)
		err := errs.New(errs.Resource, "neighbors: no candidate of %s fits budget %d", set.Query, budget)
		r.log.Debug("empty neighbor set", zap.Error(err), zap.Int("candidates", len(cands)))
	}
}

// RetrieveAll retrieves sets for every query. Queries are split into
// chunks processed concurrently; out[i] always belongs to queries[i].
func (r *Retriever) RetrieveAll(ctx context.Context, queries []*dataset.Example, snap *index.Snapshot) ([]Set, error) {
	out := make([]Set, len(queries))
	sem := semaphore.NewWeighted(int64(r.workers))
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	for lo := 0; lo < len(queries); lo += r.chunkSize {
		if err := sem.Acquire(ctx, 1); err != nil {
			once.Do(func() { firstErr = err })
			break
		}
		lo, hi := lo, min(lo+r.chunkSize, len(queries))
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			for i := lo; i < hi; i++ {
				set, err := r.Retrieve(ctx, queries[i], snap)
				if err != nil {
					once.Do(func() { firstErr = err })
					return
				}
				out[i] = set
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func sampleSeed(seed int64, version uint64, key dataset.Key) int64 {
	h := xxhash.New()
	var buf []byte
	buf = strconv.AppendInt(buf, seed, 10)
	buf = append(buf, '|')
	buf = strconv.AppendUint(buf, version, 10)
	buf = append(buf, '|')
	h.Write(buf)
	h.WriteString(key.String())
	return int64(h.Sum64())
}

// sampleDistinct draws k distinct values from [0, n) with a partial
// Fisher-Yates shuffle over a sparse swap map.
func sampleDistinct(rng *rand.Rand, n, k int) []int {
	swapped := make(map[int]int, k)
	at := func(i int) int {
		if v, ok := swapped[i]; ok {
			return v
		}
		return i
	}
	out := make([]int, k)
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		out[i] = at(j)
		swapped[j] = at(i)
	}
	return out
}
