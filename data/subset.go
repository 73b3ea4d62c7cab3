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
	"github.com/pkg/errors"
)

// Subset is a view of selected indices of another dataset.
type Subset struct {
	name    string
	base    Dataset
	indices []int
}

// NewSubset creates a view of base at the given indices, in order.
func NewSubset(name string, base Dataset, indices []int) (*Subset, error) {
	for _, index := range indices {
		if index < 0 || index >= base.Len() {
			return nil, errors.Errorf("subset index %d out of range for dataset %q of %d samples",
				index, base.Name(), base.Len())
		}
	}
	owned := make([]int, len(indices))
	copy(owned, indices)
	return &Subset{name: name, base: base, indices: owned}, nil
}

// Name implements Dataset.
func (s *Subset) Name() string { return s.name }

// Len implements Dataset.
func (s *Subset) Len() int { return len(s.indices) }

// Sample implements Dataset.
func (s *Subset) Sample(index int) (Sample, error) {
	if index < 0 || index >= len(s.indices) {
		return nil, errors.Errorf("sample %d out of range in subset %q of %d samples", index, s.name, len(s.indices))
	}
	return s.base.Sample(s.indices[index])
}

// JoinDataset merges the samples of several equally sized datasets: sample i
// of the join is the union of sample i of every part. Duplicate sample keys
// across parts are errors; table rows are merged under MetaKey, also
// erroring on conflicting entries.
type JoinDataset struct {
	name  string
	parts []Dataset
}

// NewJoinDataset joins datasets of equal length.
func NewJoinDataset(name string, parts ...Dataset) (*JoinDataset, error) {
	if len(parts) == 0 {
		return nil, errors.Errorf("join %q requires at least one dataset", name)
	}
	size := parts[0].Len()
	for _, part := range parts[1:] {
		if part.Len() != size {
			return nil, errors.Errorf("cannot join datasets of different sizes: %q has %d samples, %q has %d",
				parts[0].Name(), size, part.Name(), part.Len())
		}
	}
	return &JoinDataset{name: name, parts: parts}, nil
}

// Name implements Dataset.
func (j *JoinDataset) Name() string { return j.name }

// Len implements Dataset.
func (j *JoinDataset) Len() int { return j.parts[0].Len() }

// Sample implements Dataset.
func (j *JoinDataset) Sample(index int) (Sample, error) {
	merged := make(Sample)
	meta := make(map[string]any)
	for _, part := range j.parts {
		sample, err := part.Sample(index)
		if err != nil {
			return nil, err
		}
		for key, value := range sample {
			if key == MetaKey {
				continue
			}
			if _, exists := merged[key]; exists {
				return nil, errors.Errorf("joined datasets %q share sample key %q", j.name, key)
			}
			merged[key] = value
		}
		for key, value := range sample.Meta() {
			if previous, exists := meta[key]; exists && previous != value {
				return nil, errors.Errorf("joined datasets %q disagree on metadata %q", j.name, key)
			}
			meta[key] = value
		}
	}
	if len(meta) > 0 {
		merged[MetaKey] = meta
	}
	return merged, nil
}
