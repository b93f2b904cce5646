package dataset

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rhsieh91/sife-net/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// indexDataset returns sample i with ActionIdx i; failAt makes one index fail.
type indexDataset struct {
	n      int
	failAt int
	calls  atomic.Int64
}

func (d *indexDataset) Len() int { return d.n }

func (d *indexDataset) Get(i int) (Sample, error) {
	d.calls.Add(1)
	if i == d.failAt {
		return Sample{}, errors.New("corrupt frame")
	}
	// stagger workers so batches complete out of order
	time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	return Sample{Clip: tensor.NewClip(3, 1, 1, 1), ActionIdx: i, SceneIdx: i % 2}, nil
}

func drain(t *testing.T, ctx context.Context, l *Loader) ([]Batch, error) {
	t.Helper()
	batches, errc := l.Batches(ctx)
	var out []Batch
	for b := range batches {
		out = append(out, b)
	}
	select {
	case err := <-errc:
		return out, err
	default:
		return out, nil
	}
}

func TestLoaderSequentialOrder(t *testing.T) {
	l := &Loader{Dataset: &indexDataset{n: 10, failAt: -1}, BatchSize: 4, NumWorkers: 3}
	batches, err := drain(t, context.Background(), l)
	require.NoError(t, err)

	require.Len(t, batches, 3)
	assert.Equal(t, []int{0, 1, 2, 3}, batches[0].ActionIdx)
	assert.Equal(t, []int{4, 5, 6, 7}, batches[1].ActionIdx)
	assert.Equal(t, []int{8, 9}, batches[2].ActionIdx)
	assert.Equal(t, []int{0, 1}, batches[2].SceneIdx)
	assert.Equal(t, 2, batches[2].Size())
}

func TestLoaderShuffleCoversEverySample(t *testing.T) {
	l := &Loader{Dataset: &indexDataset{n: 23, failAt: -1}, BatchSize: 5, Shuffle: true, NumWorkers: 4,
		Rand: rand.New(rand.NewSource(11))}
	batches, err := drain(t, context.Background(), l)
	require.NoError(t, err)

	seen := map[int]int{}
	inOrder := true
	prev := -1
	for _, b := range batches {
		for _, i := range b.ActionIdx {
			seen[i]++
			if i < prev {
				inOrder = false
			}
			prev = i
		}
	}
	assert.Len(t, seen, 23)
	for i, c := range seen {
		assert.Equal(t, 1, c, "sample %d", i)
	}
	assert.False(t, inOrder)
}

func TestLoaderStopsOnSampleError(t *testing.T) {
	ds := &indexDataset{n: 40, failAt: 5}
	l := &Loader{Dataset: ds, BatchSize: 2, NumWorkers: 2}
	batches, err := drain(t, context.Background(), l)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load sample 5")
	assert.Less(t, len(batches), 3)
}

func TestLoaderEmptyDataset(t *testing.T) {
	l := &Loader{Dataset: &indexDataset{n: 0, failAt: -1}, BatchSize: 2}
	_, err := drain(t, context.Background(), l)
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestLoaderCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{Dataset: &indexDataset{n: 1000, failAt: -1}, BatchSize: 1, NumWorkers: 4}
	batches, _ := l.Batches(ctx)

	<-batches
	cancel()

	done := make(chan struct{})
	go func() {
		for range batches {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loader did not stop after cancellation")
	}
}
