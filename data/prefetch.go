/*
 *	Copyright 2024 The GoMIA Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package data

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PrefetchDataset iterates over a dataset with a pool of goroutines
// materializing samples ahead of the consumer, in index order. The underlying
// dataset must be safe for concurrent Sample calls (MetaDataset, Subset and
// JoinDataset are).
//
// Configure and then call Start:
//
//	it := data.Prefetch(ds).Parallelism(4).Start()
//	defer it.Cancel()
//	for sample, err := it.Next(); err != data.ErrIteratorDone; sample, err = it.Next() { ... }
type PrefetchDataset struct {
	dataset     Dataset
	parallelism int
	buffer      int
}

// Prefetch wraps a dataset for parallel iteration. Defaults: one goroutine
// per CPU plus one, and a buffer of the same size.
func Prefetch(dataset Dataset) *PrefetchDataset {
	n := runtime.NumCPU() + 1
	return &PrefetchDataset{dataset: dataset, parallelism: n, buffer: n}
}

// Parallelism sets the number of worker goroutines. Zero resets the default.
func (p *PrefetchDataset) Parallelism(n int) *PrefetchDataset {
	if n <= 0 {
		n = runtime.NumCPU() + 1
	}
	p.parallelism = n
	return p
}

// Buffer sets how many samples may be materialized ahead of the consumer.
func (p *PrefetchDataset) Buffer(n int) *PrefetchDataset {
	if n < 1 {
		n = 1
	}
	p.buffer = n
	return p
}

// Start launches the workers and returns the iterator. To avoid leaking
// goroutines, call PrefetchIterator.Cancel when done early.
func (p *PrefetchDataset) Start() *PrefetchIterator {
	it := &PrefetchIterator{
		pending: make(chan chan prefetched, p.buffer),
		stop:    make(chan struct{}),
	}
	jobs := make(chan prefetchJob)
	go func() {
		defer close(it.pending)
		defer close(jobs)
		for index := 0; index < p.dataset.Len(); index++ {
			result := make(chan prefetched, 1)
			select {
			case it.pending <- result:
			case <-it.stop:
				return
			}
			select {
			case jobs <- prefetchJob{index: index, result: result}:
			case <-it.stop:
				result <- prefetched{err: ErrIteratorDone}
				return
			}
		}
	}()
	var wg sync.WaitGroup
	for w := 0; w < p.parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				sample, err := p.dataset.Sample(job.index)
				job.result <- prefetched{sample: sample, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		klog.V(2).Infof("prefetch of dataset %q finished", p.dataset.Name())
	}()
	return it
}

type prefetchJob struct {
	index  int
	result chan prefetched
}

type prefetched struct {
	sample Sample
	err    error
}

// PrefetchIterator delivers prefetched samples in index order.
type PrefetchIterator struct {
	pending chan chan prefetched
	stop    chan struct{}
	done    sync.Once
}

// ErrIteratorDone is returned by Next after the last sample was delivered.
var ErrIteratorDone = errors.New("iterator exhausted")

// Next returns the next sample. After the last sample it returns
// ErrIteratorDone; errors from the underlying dataset pass through.
func (it *PrefetchIterator) Next() (Sample, error) {
	result, ok := <-it.pending
	if !ok {
		return nil, ErrIteratorDone
	}
	r := <-result
	return r.sample, r.err
}

// Cancel stops the iteration and releases the workers. It is safe to call
// multiple times and after exhaustion.
func (it *PrefetchIterator) Cancel() {
	it.done.Do(func() {
		close(it.stop)
		// Drain so workers blocked on result channels can exit.
		go func() {
			for result := range it.pending {
				<-result
			}
		}()
	})
}
