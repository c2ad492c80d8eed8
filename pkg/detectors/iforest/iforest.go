// Package iforest implements the Isolation Forest algorithm for scalar anomaly detection.
//
// The forest is rebuilt from the caller's history on every evaluation. Nothing is trained ahead
// of time, so an IsolationForest holds only its configuration and a random source and is safe
// for concurrent use.
package iforest

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pulseguard/pulseguard/pkg/detectors"
)

var log = logrus.WithField("component", "iforest")

// IsolationForest scores values by how quickly random partition trees isolate them.
type IsolationForest struct {
	// Configuration
	nTrees     int
	sampleSize int
	threshold  float64
	maxDepth   int
	workers    int

	seed   int64
	seeded bool
	rng    Rand
}

// Forest is an ensemble of isolation trees grown from one history window.
type Forest struct {
	trees      []*Tree
	sampleSize int
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample cap for each tree. It also bounds tree height.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithThreshold sets the score above which a value is an anomaly.
func WithThreshold(t float64) Option {
	return func(f *IsolationForest) {
		f.threshold = t
	}
}

// WithWorkers sets how many goroutines grow trees in parallel.
func WithWorkers(n int) Option {
	return func(f *IsolationForest) {
		f.workers = n
	}
}

// WithSeed makes every forest build start from the same seed, so results reproduce.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.seed = seed
		f.seeded = true
	}
}

// WithRand sets the random source shared by all builds.
// Access to r is serialized, so it does not need to be goroutine-safe.
func WithRand(r Rand) Option {
	return func(f *IsolationForest) {
		f.rng = &lockedRand{r: r}
		f.seeded = false
	}
}

// WithConfig applies a detectors.Config. A zero RandomSeed leaves the forest unseeded.
func WithConfig(c detectors.Config) Option {
	return func(f *IsolationForest) {
		f.nTrees = c.Trees
		f.sampleSize = c.SampleSize
		f.threshold = c.Threshold
		f.workers = c.Workers
		if c.RandomSeed != 0 {
			f.seed = c.RandomSeed
			f.seeded = true
		}
	}
}

// New creates a new IsolationForest with the given options.
// Out of range settings fall back to the defaults in package detectors.
func New(opts ...Option) *IsolationForest {
	f := &IsolationForest{
		nTrees:     detectors.DefaultTrees,
		sampleSize: detectors.DefaultSampleSize,
		threshold:  detectors.DefaultThreshold,
		workers:    1,
		rng:        globalRand{},
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.nTrees < 1 {
		f.nTrees = detectors.DefaultTrees
	}
	if f.sampleSize < 2 {
		f.sampleSize = detectors.DefaultSampleSize
	}
	if f.threshold <= 0 || f.threshold >= 1 {
		f.threshold = detectors.DefaultThreshold
	}
	if f.workers < 1 {
		f.workers = 1
	}

	// Max depth based on sample size
	f.maxDepth = MaxTreeHeight(f.sampleSize)

	return f
}

// MaxTreeHeight returns ceil(log2(sampleSize)), the height limit for trees grown from sampleSize values.
func MaxTreeHeight(sampleSize int) int {
	if sampleSize <= 1 {
		return 0
	}
	return int(math.Ceil(math.Log2(float64(sampleSize))))
}

// Trees returns the configured ensemble size.
func (f *IsolationForest) Trees() int { return f.nTrees }

// SampleSize returns the configured subsample cap.
func (f *IsolationForest) SampleSize() int { return f.sampleSize }

// MaxDepth returns the tree height limit.
func (f *IsolationForest) MaxDepth() int { return f.maxDepth }

// Threshold returns the anomaly threshold.
func (f *IsolationForest) Threshold() float64 { return f.threshold }

// BuildForest grows a forest from data. Empty data yields trees that are a single empty leaf.
func (f *IsolationForest) BuildForest(data []float64) *Forest {
	// Background is never cancelled.
	forest, _ := f.BuildForestContext(context.Background(), data)
	return forest
}

// BuildForestContext grows a forest from data and stops early when ctx is cancelled.
//
// Each tree draws from its own generator seeded from the forest's source in tree order, so the
// worker count never changes the result for a given source.
func (f *IsolationForest) BuildForestContext(ctx context.Context, data []float64) (*Forest, error) {
	src := f.source()
	seeds := make([]int64, f.nTrees)
	for i := range seeds {
		seeds[i] = src.Int63()
	}

	forest := &Forest{
		trees:      make([]*Tree, f.nTrees),
		sampleSize: f.sampleSize,
	}

	if f.workers <= 1 {
		for i, seed := range seeds {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			forest.trees[i] = f.growTree(data, seed)
		}
		return forest, nil
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < f.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				forest.trees[i] = f.growTree(data, seeds[i])
			}
		}()
	}

	var err error
dispatch:
	for i := range seeds {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if err != nil {
		return nil, err
	}
	return forest, nil
}

func (f *IsolationForest) source() Rand {
	if f.seeded {
		return rand.New(rand.NewSource(f.seed))
	}
	return f.rng
}

func (f *IsolationForest) growTree(data []float64, seed int64) *Tree {
	r := rand.New(rand.NewSource(seed))
	return BuildTree(subsample(data, f.sampleSize, r), 0, f.maxDepth, r)
}

// subsample shuffles a copy of data and keeps a prefix of at most size values.
func subsample(data []float64, size int, r Rand) []float64 {
	shuffled := make([]float64, len(data))
	copy(shuffled, data)
	r.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if size > len(shuffled) {
		size = len(shuffled)
	}
	return shuffled[:size]
}

// CalculateAnomalyScore returns the normalized anomaly score of value against forest.
func (f *IsolationForest) CalculateAnomalyScore(value float64, forest *Forest) float64 {
	return forest.Score(value)
}

// DetectAnomalies builds a fresh forest from history and reports whether value scores above threshold.
func (f *IsolationForest) DetectAnomalies(history []float64, value, threshold float64) bool {
	return f.BuildForest(history).Score(value) > threshold
}

// Score implements detectors.Detector using the configured threshold.
func (f *IsolationForest) Score(ctx context.Context, history []float64, value float64) (detectors.Verdict, error) {
	forest, err := f.BuildForestContext(ctx, history)
	if err != nil {
		return detectors.Verdict{}, err
	}

	verdict := detectors.NewVerdict(forest.Score(value), f.threshold)
	log.WithFields(logrus.Fields{
		"history": len(history),
		"value":   value,
		"score":   verdict.Score,
		"anomaly": verdict.IsAnomaly,
	}).Debug("scored value")

	return verdict, nil
}

// Trees returns the trees of the forest.
func (fr *Forest) Trees() []*Tree {
	return fr.trees
}

// Len returns the number of trees.
func (fr *Forest) Len() int {
	if fr == nil {
		return 0
	}
	return len(fr.trees)
}

// AveragePathLength returns the mean path length of value over all trees.
func (fr *Forest) AveragePathLength(value float64) float64 {
	if fr.Len() == 0 {
		return 0
	}

	var totalPath float64
	for _, tree := range fr.trees {
		totalPath += PathLength(value, tree)
	}
	return totalPath / float64(len(fr.trees))
}

// Score returns 2^(-E[h(value)] / c(sampleSize)).
// Scores near 1 mean value isolates quickly. An empty forest scores 0.
// Scoring never modifies the forest.
func (fr *Forest) Score(value float64) float64 {
	if fr.Len() == 0 {
		return 0
	}

	norm := AveragePathLength(fr.sampleSize)
	if norm == 0 {
		return 0
	}
	return math.Pow(2, -fr.AveragePathLength(value)/norm)
}

// AveragePathLength returns c(n), the expected path length of an unsuccessful
// binary search tree lookup among n items: 2*H(n-1) - 2*(n-1)/n.
func AveragePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2*harmonic(n-1) - 2*float64(n-1)/float64(n)
}

// harmonic returns H(k) = 1 + 1/2 + ... + 1/k.
func harmonic(k int) float64 {
	var h float64
	for i := 1; i <= k; i++ {
		h += 1 / float64(i)
	}
	return h
}
