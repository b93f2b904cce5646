package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rhsieh91/sife-net/internal/infra/metrics"
	"github.com/rhsieh91/sife-net/internal/tensor"
)

var ErrEmptyDataset = errors.New("empty dataset")

// Batch is a group of samples stacked along the batch dimension.
type Batch struct {
	Inputs    []*tensor.Clip
	ActionIdx []int
	SceneIdx  []int
}

func (b Batch) Size() int { return len(b.Inputs) }

// Loader cuts a dataset into mini-batches, assembling them on a pool of worker goroutines.
type Loader struct {
	Dataset    Dataset
	BatchSize  int
	Shuffle    bool
	NumWorkers int
	// Name labels the loader's metrics ("train", "val").
	Name string
	Rand *rand.Rand
}

type job struct {
	seq     int
	indices []int
}

type result struct {
	seq   int
	batch Batch
	err   error
}

// Batches streams the dataset once. The batch channel closes when the epoch is exhausted, the
// context is cancelled, or a sample fails to load; in the last case the error channel carries the
// failure. The final batch may be smaller than BatchSize.
func (l *Loader) Batches(ctx context.Context) (<-chan Batch, <-chan error) {
	out := make(chan Batch)
	errc := make(chan error, 1)

	n := l.Dataset.Len()
	if n == 0 {
		close(out)
		errc <- ErrEmptyDataset
		return out, errc
	}
	if l.BatchSize <= 0 {
		close(out)
		errc <- fmt.Errorf("batch size must be positive, got %d", l.BatchSize)
		return out, errc
	}

	order := l.order(n)
	workers := l.NumWorkers
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	jobs := make(chan job)
	results := make(chan result, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				b, err := l.build(j.indices)
				select {
				case results <- result{seq: j.seq, batch: b, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for seq, start := 0, 0; start < n; seq, start = seq+1, start+l.BatchSize {
			end := start + l.BatchSize
			if end > n {
				end = n
			}
			select {
			case jobs <- job{seq: seq, indices: order[start:end]}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	go func() {
		defer close(out)
		defer cancel()

		// workers finish out of order; hold early batches until their turn
		pending := make(map[int]Batch)
		next := 0
		for r := range results {
			if r.err != nil {
				errc <- r.err
				return
			}
			pending[r.seq] = r.batch
			for {
				b, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				select {
				case out <- b:
				case <-ctx.Done():
					return
				}
				next++
			}
		}
	}()

	return out, errc
}

func (l *Loader) order(n int) []int {
	if !l.Shuffle {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	if l.Rand != nil {
		return l.Rand.Perm(n)
	}
	return rand.Perm(n)
}

func (l *Loader) build(indices []int) (Batch, error) {
	start := time.Now()
	b := Batch{
		Inputs:    make([]*tensor.Clip, len(indices)),
		ActionIdx: make([]int, len(indices)),
		SceneIdx:  make([]int, len(indices)),
	}
	for k, i := range indices {
		s, err := l.Dataset.Get(i)
		if err != nil {
			return Batch{}, fmt.Errorf("load sample %d: %w", i, err)
		}
		b.Inputs[k] = s.Clip
		b.ActionIdx[k] = s.ActionIdx
		b.SceneIdx[k] = s.SceneIdx
	}
	metrics.SamplesLoadedTotal.WithLabelValues(l.name()).Add(float64(len(indices)))
	metrics.BatchLoadDuration.WithLabelValues(l.name()).Observe(time.Since(start).Seconds())
	return b, nil
}

func (l *Loader) name() string {
	if l.Name == "" {
		return "default"
	}
	return l.Name
}
