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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestTable(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	table := filepath.Join(dir, "index.csv")
	contents := "subject,session,path\n" +
		"s1,a,s1_a.nii\n" +
		"s1,b,s1_b.nii\n" +
		"s2,a,s2_a.nii\n"
	require.NoError(t, os.WriteFile(table, []byte(contents), 0644))
	return table
}

func TestExpandTemplate(t *testing.T) {
	values := map[string]any{"subject": "s1", "session": "a", "run": 2}

	got, err := ExpandTemplate("{subject}/{session}/run-{run}.nii", values)
	require.NoError(t, err)
	assert.Equal(t, "s1/a/run-2.nii", got)

	got, err = ExpandTemplate("literal {{braces}} kept", values)
	require.NoError(t, err)
	assert.Equal(t, "literal {braces} kept", got)

	_, err = ExpandTemplate("{missing}", values)
	require.Error(t, err)
	_, err = ExpandTemplate("{unclosed", values)
	require.Error(t, err)
	_, err = ExpandTemplate("unopened}", values)
	require.Error(t, err)
	_, err = ExpandTemplate("{}", values)
	require.Error(t, err)
}

func TestReadTable(t *testing.T) {
	table, err := ReadTable(writeTestTable(t))
	require.NoError(t, err)
	assert.Equal(t, 3, table.Nrow())
	assert.Equal(t, []string{"subject", "session", "path"}, table.Names())

	_, err = ReadTable("index.h5")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported table format")
}

func TestMetaDataset(t *testing.T) {
	table, err := ReadTable(writeTestTable(t))
	require.NoError(t, err)
	ds := NewMetaDataset("test", table, "/data").
		WithPath("image", "{prefix}/{subject}/{session}.nii").
		WithPath("raw", "path").
		WithPathFunc("upper", func(row map[string]any) (string, error) {
			return strings.ToUpper(fmt.Sprint(row["subject"])), nil
		})

	require.Equal(t, 3, ds.Len())
	require.Equal(t, "test", ds.Name())

	sample, err := ds.Sample(0)
	require.NoError(t, err)
	assert.Equal(t, "/data/s1/a.nii", sample["image"])
	assert.Equal(t, "/data/s1_a.nii", sample["raw"])
	assert.Equal(t, "/data/S1", sample["upper"])
	assert.Equal(t, "s1", sample.Meta()["subject"])

	_, err = ds.Sample(3)
	require.Error(t, err)

	require.Panics(t, func() { ds.WithPath(MetaKey, "x") })
	require.Panics(t, func() { ds.WithPath("image", "again") })
}

func TestMetaDatasetTransform(t *testing.T) {
	table, err := ReadTable(writeTestTable(t))
	require.NoError(t, err)
	ds := NewMetaDataset("test", table, "").
		WithPath("image", "{subject}.nii").
		WithTransform(Compose(
			RenameKey("image", "volume"),
			OnKey("volume", func(v any) (any, error) {
				return strings.TrimSuffix(v.(string), ".nii"), nil
			}),
		))

	sample, err := ds.Sample(2)
	require.NoError(t, err)
	assert.Equal(t, "s2", sample["volume"])
	_, hasOld := sample["image"]
	assert.False(t, hasOld)
}

func TestGroupByColumn(t *testing.T) {
	table, err := ReadTable(writeTestTable(t))
	require.NoError(t, err)
	ds := NewMetaDataset("test", table, "").WithPath("image", "{subject}_{session}.nii")

	groups, err := ds.GroupByColumn("subject")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "test/s1", groups[0].Name())
	assert.Equal(t, 2, groups[0].Len())
	assert.Equal(t, "test/s2", groups[1].Name())
	assert.Equal(t, 1, groups[1].Len())

	sample, err := groups[1].Sample(0)
	require.NoError(t, err)
	assert.Equal(t, "s2_a.nii", sample["image"])

	_, err = ds.GroupByColumn("nope")
	require.Error(t, err)
}

func TestSubsetBounds(t *testing.T) {
	table, err := ReadTable(writeTestTable(t))
	require.NoError(t, err)
	ds := NewMetaDataset("test", table, "").WithPath("image", "{subject}.nii")

	_, err = NewSubset("bad", ds, []int{0, 3})
	require.Error(t, err)

	subset, err := NewSubset("ok", ds, []int{2, 0})
	require.NoError(t, err)
	require.Equal(t, 2, subset.Len())
	sample, err := subset.Sample(0)
	require.NoError(t, err)
	assert.Equal(t, "s2.nii", sample["image"])
	_, err = subset.Sample(2)
	require.Error(t, err)
}

func TestJoinDataset(t *testing.T) {
	table, err := ReadTable(writeTestTable(t))
	require.NoError(t, err)
	images := NewMetaDataset("images", table, "").WithPath("image", "{subject}.nii")
	labels := NewMetaDataset("labels", table, "").WithPath("labels", "{subject}_seg.nii")

	joined, err := NewJoinDataset("pairs", images, labels)
	require.NoError(t, err)
	require.Equal(t, 3, joined.Len())

	sample, err := joined.Sample(1)
	require.NoError(t, err)
	assert.Equal(t, "s1.nii", sample["image"])
	assert.Equal(t, "s1_seg.nii", sample["labels"])
	assert.Equal(t, "s1", sample.Meta()["subject"])

	// Conflicting sample keys across parts are rejected.
	conflicting := NewMetaDataset("dup", table, "").WithPath("image", "{subject}_2.nii")
	dup, err := NewJoinDataset("bad", images, conflicting)
	require.NoError(t, err)
	_, err = dup.Sample(0)
	require.Error(t, err)

	// Sizes must match.
	short, err := NewSubset("short", images, []int{0})
	require.NoError(t, err)
	_, err = NewJoinDataset("bad", images, short)
	require.Error(t, err)
}

func TestPrefetch(t *testing.T) {
	table, err := ReadTable(writeTestTable(t))
	require.NoError(t, err)
	ds := NewMetaDataset("test", table, "").WithPath("image", "{subject}_{session}.nii")

	it := Prefetch(ds).Parallelism(2).Buffer(2).Start()
	defer it.Cancel()
	var got []string
	for {
		sample, err := it.Next()
		if err == ErrIteratorDone {
			break
		}
		require.NoError(t, err)
		got = append(got, sample["image"].(string))
	}
	assert.Equal(t, []string{"s1_a.nii", "s1_b.nii", "s2_a.nii"}, got)

	// Cancelling early must not deadlock.
	it = Prefetch(ds).Start()
	_, err = it.Next()
	require.NoError(t, err)
	it.Cancel()
}

func TestImageDatasetConfig(t *testing.T) {
	dir := t.TempDir()
	contents := "subject,session,path\ns1,a,s1_a.nii\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.csv"), []byte(contents), 0644))
	config := "name: test\n" +
		"table: index.csv\n" +
		"prefix: images\n" +
		"paths:\n" +
		"  image: \"{prefix}/{subject}/{session}.nii\"\n"
	configPath := filepath.Join(dir, "dataset.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0644))

	cfg, err := LoadImageDatasetConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Name)
	assert.Equal(t, filepath.Join(dir, "index.csv"), cfg.Table)

	ds, err := cfg.Dataset()
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())
	sample, err := ds.Sample(0)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "images", "s1", "a.nii"), sample["image"])

	// A config without paths is invalid.
	cfg.Paths = nil
	_, err = cfg.Dataset()
	require.Error(t, err)
}

func TestValidateChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob")
	payload := []byte("payload")
	require.NoError(t, os.WriteFile(path, payload, 0644))

	sum := sha256.Sum256(payload)
	require.NoError(t, ValidateChecksum(path, hex.EncodeToString(sum[:])))

	// A wrong checksum fails and removes the file.
	require.NoError(t, os.WriteFile(path, payload, 0644))
	require.Error(t, ValidateChecksum(path, strings.Repeat("0", 64)))
	assert.False(t, FileExists(path))
}
