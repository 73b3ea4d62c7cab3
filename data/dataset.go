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

// Package data maps tabular metadata to on-disk sample files: an index table
// (one row per sample) plus path templates yield addressable samples, with
// composable transforms, grouping, joining and prefetching on top.
package data

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
)

// MetaKey is the reserved sample key holding the sample's table row.
const MetaKey = "meta"

// Sample is one dataset item: named values (typically resolved file paths, or
// whatever transforms turned them into), plus the originating table row under
// MetaKey.
type Sample map[string]any

// Meta returns the sample's table row, or nil if it has none.
func (s Sample) Meta() map[string]any {
	meta, _ := s[MetaKey].(map[string]any)
	return meta
}

// Dataset is a finite random-access collection of samples.
type Dataset interface {
	// Name identifies the dataset, for logging and error messages.
	Name() string
	// Len returns the number of samples.
	Len() int
	// Sample materializes the index-th sample.
	Sample(index int) (Sample, error)
}

// PathFunc resolves a sample file path from a table row.
type PathFunc func(row map[string]any) (string, error)

// pathSpec is either a template/column string or a PathFunc.
type pathSpec struct {
	key string
	str string
	fn  PathFunc
}

// MetaDataset maps the rows of an index table to samples of file paths.
//
// Each registered path is resolved per row: a PathFunc is called with the
// row; a string containing "{...}" placeholders is expanded with the row's
// columns (plus "prefix"); any other string names a column whose cell holds
// the path. Relative results are joined to the dataset prefix.
type MetaDataset struct {
	name      string
	table     dataframe.DataFrame
	prefix    string
	paths     []pathSpec
	transform Transform
}

// NewMetaDataset creates a dataset over an index table. The prefix is the
// root directory resolved paths are relative to; it may be empty.
func NewMetaDataset(name string, table dataframe.DataFrame, prefix string) *MetaDataset {
	return &MetaDataset{
		name:   name,
		table:  table,
		prefix: ReplaceTildeInDir(prefix),
	}
}

// WithPath registers a sample key resolved from a path template or column
// name. It returns the dataset for chaining.
func (ds *MetaDataset) WithPath(key, template string) *MetaDataset {
	return ds.addPath(pathSpec{key: key, str: template})
}

// WithPathFunc registers a sample key resolved by a function of the row.
func (ds *MetaDataset) WithPathFunc(key string, fn PathFunc) *MetaDataset {
	return ds.addPath(pathSpec{key: key, fn: fn})
}

func (ds *MetaDataset) addPath(spec pathSpec) *MetaDataset {
	if spec.key == MetaKey {
		panic(errors.Errorf("sample key %q is reserved", MetaKey))
	}
	for _, p := range ds.paths {
		if p.key == spec.key {
			panic(errors.Errorf("sample key %q registered twice in dataset %q", spec.key, ds.name))
		}
	}
	ds.paths = append(ds.paths, spec)
	return ds
}

// WithTransform sets a transform applied to every sample after path
// resolution. Use Compose to chain several.
func (ds *MetaDataset) WithTransform(t Transform) *MetaDataset {
	ds.transform = t
	return ds
}

// Name implements Dataset.
func (ds *MetaDataset) Name() string { return ds.name }

// Len implements Dataset.
func (ds *MetaDataset) Len() int { return ds.table.Nrow() }

// Prefix returns the root directory of the dataset's files.
func (ds *MetaDataset) Prefix() string { return ds.prefix }

// Columns returns the column names of the index table.
func (ds *MetaDataset) Columns() []string { return ds.table.Names() }

// Row returns the index-th table row as a column-to-value map.
func (ds *MetaDataset) Row(index int) (map[string]any, error) {
	if index < 0 || index >= ds.table.Nrow() {
		return nil, errors.Errorf("row %d out of range in dataset %q of %d samples", index, ds.name, ds.table.Nrow())
	}
	names := ds.table.Names()
	row := make(map[string]any, len(names))
	for col, name := range names {
		row[name] = ds.table.Elem(index, col).Val()
	}
	return row, nil
}

// Sample implements Dataset: it resolves the registered paths for the row
// and applies the dataset transform, if any.
func (ds *MetaDataset) Sample(index int) (Sample, error) {
	row, err := ds.Row(index)
	if err != nil {
		return nil, err
	}
	sample := make(Sample, len(ds.paths)+1)
	for _, spec := range ds.paths {
		path, err := ds.resolve(spec, row)
		if err != nil {
			return nil, errors.WithMessagef(err, "resolving %q of sample %d in dataset %q", spec.key, index, ds.name)
		}
		sample[spec.key] = path
	}
	sample[MetaKey] = row
	if ds.transform != nil {
		sample, err = ds.transform.Apply(sample)
		if err != nil {
			return nil, errors.WithMessagef(err, "transforming sample %d of dataset %q", index, ds.name)
		}
	}
	return sample, nil
}

func (ds *MetaDataset) resolve(spec pathSpec, row map[string]any) (string, error) {
	var path string
	switch {
	case spec.fn != nil:
		var err error
		path, err = spec.fn(row)
		if err != nil {
			return "", err
		}
	case strings.ContainsRune(spec.str, '{'):
		values := make(map[string]any, len(row)+1)
		for k, v := range row {
			values[k] = v
		}
		values["prefix"] = ds.prefix
		var err error
		path, err = ExpandTemplate(spec.str, values)
		if err != nil {
			return "", err
		}
	default:
		cell, ok := row[spec.str]
		if !ok {
			return "", errors.Errorf("no column %q in index table", spec.str)
		}
		path, ok = cell.(string)
		if !ok {
			return "", errors.Errorf("column %q does not hold path strings", spec.str)
		}
	}
	if ds.prefix != "" && path != "" && !filepath.IsAbs(path) && !strings.HasPrefix(path, ds.prefix) {
		path = filepath.Join(ds.prefix, path)
	}
	return path, nil
}

// GroupByColumn partitions the dataset by the values of a table column,
// returning one subset per distinct value, ordered by value. Subsets are
// named "<dataset>/<value>".
func (ds *MetaDataset) GroupByColumn(column string) ([]*Subset, error) {
	col := -1
	for i, name := range ds.table.Names() {
		if name == column {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, errors.Errorf("no column %q to group dataset %q by", column, ds.name)
	}
	groups := make(map[string][]int)
	for r := 0; r < ds.table.Nrow(); r++ {
		value := ds.table.Elem(r, col).String()
		groups[value] = append(groups[value], r)
	}
	values := make([]string, 0, len(groups))
	for value := range groups {
		values = append(values, value)
	}
	sort.Strings(values)
	subsets := make([]*Subset, 0, len(values))
	for _, value := range values {
		subset, err := NewSubset(ds.name+"/"+value, ds, groups[value])
		if err != nil {
			return nil, err
		}
		subsets = append(subsets, subset)
	}
	return subsets, nil
}
