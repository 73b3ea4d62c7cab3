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
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// ImageDatasetConfig declares an image dataset: where its index table lives,
// the root directory of the image files, and how each sample key maps to a
// file path. Typically loaded from a YAML file:
//
//	name: oasis
//	table: meta/index.csv
//	prefix: images
//	paths:
//	  image: "{prefix}/{subject_id}/t1w.nii.gz"
//	  labels: "{prefix}/{subject_id}/seg.nii.gz"
//	downloads:
//	  - url: https://example.org/oasis.csv
//	    path: meta/index.csv
//	    sha256: ...
type ImageDatasetConfig struct {
	Name      string            `yaml:"name"`
	Table     string            `yaml:"table"`
	Prefix    string            `yaml:"prefix"`
	Paths     map[string]string `yaml:"paths"`
	Downloads []DownloadConfig  `yaml:"downloads"`
}

// DownloadConfig is a file fetched before the dataset is opened, skipped if
// already present. The sha256 checksum is optional.
type DownloadConfig struct {
	URL    string `yaml:"url"`
	Path   string `yaml:"path"`
	SHA256 string `yaml:"sha256"`
}

// LoadImageDatasetConfig reads an ImageDatasetConfig from a YAML file.
// Relative table, prefix and download paths are resolved against the config
// file's directory.
func LoadImageDatasetConfig(path string) (*ImageDatasetConfig, error) {
	path = ReplaceTildeInDir(path)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dataset config %q", path)
	}
	cfg := &ImageDatasetConfig{}
	if err = yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse dataset config %q", path)
	}
	baseDir := filepath.Dir(path)
	cfg.Table = resolveAgainst(baseDir, cfg.Table)
	cfg.Prefix = resolveAgainst(baseDir, cfg.Prefix)
	for i := range cfg.Downloads {
		cfg.Downloads[i].Path = resolveAgainst(baseDir, cfg.Downloads[i].Path)
	}
	return cfg, nil
}

func resolveAgainst(baseDir, path string) string {
	path = ReplaceTildeInDir(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate checks the config names everything a dataset needs.
func (cfg *ImageDatasetConfig) Validate() error {
	if cfg.Name == "" {
		return errors.New("dataset config is missing a name")
	}
	if cfg.Table == "" {
		return errors.Errorf("dataset config %q is missing an index table", cfg.Name)
	}
	if len(cfg.Paths) == 0 {
		return errors.Errorf("dataset config %q declares no sample paths", cfg.Name)
	}
	for _, dl := range cfg.Downloads {
		if dl.URL == "" || dl.Path == "" {
			return errors.Errorf("dataset config %q has a download without url or path", cfg.Name)
		}
	}
	return nil
}

// Dataset opens the configured dataset: it fetches missing downloads, reads
// the index table and registers the sample paths.
func (cfg *ImageDatasetConfig) Dataset() (*MetaDataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, dl := range cfg.Downloads {
		if err := DownloadIfMissing(dl.URL, dl.Path, dl.SHA256); err != nil {
			return nil, errors.WithMessagef(err, "fetching files of dataset %q", cfg.Name)
		}
	}
	table, err := ReadTable(cfg.Table)
	if err != nil {
		return nil, err
	}
	ds := NewMetaDataset(cfg.Name, table, cfg.Prefix)
	for _, key := range sortedKeys(cfg.Paths) {
		ds.WithPath(key, cfg.Paths[key])
	}
	klog.V(1).Infof("Opened dataset %q: %d samples, %d keys", cfg.Name, ds.Len(), len(cfg.Paths))
	return ds, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
