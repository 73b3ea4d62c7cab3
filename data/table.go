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
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ReadTable loads an index table from a delimited text file, selecting the
// delimiter from the extension: ".csv" for commas, ".tsv" for tabs. The first
// row must hold the column names. Other formats (e.g. ".h5") are not
// supported.
func ReadTable(path string) (dataframe.DataFrame, error) {
	path = ReplaceTildeInDir(path)
	var delimiter rune
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		delimiter = ','
	case ".tsv":
		delimiter = '\t'
	default:
		return dataframe.DataFrame{}, errors.Errorf("unsupported table format %q for %q", ext, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(err, "failed to open index table %q", path)
	}
	defer func() {
		_ = f.Close() // Read errors surface through the dataframe.
	}()
	// Keep all cells as strings: identifiers like "001" must survive
	// template expansion unchanged.
	df := dataframe.ReadCSV(f,
		dataframe.WithDelimiter(delimiter),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(df.Err, "failed to parse index table %q", path)
	}
	klog.V(1).Infof("Read index table %q: %d rows, %d columns", path, df.Nrow(), df.Ncol())
	return df, nil
}
