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

// Transform rewrites a sample, e.g. loading a file path into its contents or
// normalizing a value. Transforms must not mutate the input sample; they
// return a new (or the same, unchanged) sample.
type Transform interface {
	Apply(sample Sample) (Sample, error)
}

// TransformFunc adapts a function to the Transform interface.
type TransformFunc func(sample Sample) (Sample, error)

// Apply implements Transform.
func (f TransformFunc) Apply(sample Sample) (Sample, error) { return f(sample) }

// Compose chains transforms left to right into one.
func Compose(transforms ...Transform) Transform {
	return TransformFunc(func(sample Sample) (Sample, error) {
		var err error
		for _, t := range transforms {
			sample, err = t.Apply(sample)
			if err != nil {
				return nil, err
			}
		}
		return sample, nil
	})
}

// RenameKey returns a transform moving a sample value to a new key.
func RenameKey(from, to string) Transform {
	return TransformFunc(func(sample Sample) (Sample, error) {
		value, ok := sample[from]
		if !ok {
			return nil, errors.Errorf("no sample key %q to rename to %q", from, to)
		}
		if _, exists := sample[to]; exists {
			return nil, errors.Errorf("sample key %q already exists, cannot rename %q to it", to, from)
		}
		out := make(Sample, len(sample))
		for k, v := range sample {
			out[k] = v
		}
		delete(out, from)
		out[to] = value
		return out, nil
	})
}

// OnKey returns a transform applying fn to the value of one sample key,
// leaving everything else untouched.
func OnKey(key string, fn func(value any) (any, error)) Transform {
	return TransformFunc(func(sample Sample) (Sample, error) {
		value, ok := sample[key]
		if !ok {
			return nil, errors.Errorf("no sample key %q to transform", key)
		}
		transformed, err := fn(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "transforming sample key %q", key)
		}
		out := make(Sample, len(sample))
		for k, v := range sample {
			out[k] = v
		}
		out[key] = transformed
		return out, nil
	})
}
