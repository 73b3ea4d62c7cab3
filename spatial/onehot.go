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

package spatial

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomia/gomia/coords"
)

// AsOneHot expands an integer label map `(N, 1, ..., X)` into a one-hot
// channels-first tensor `(N, numClasses, ..., X)` of the given dtype.
//
// If ignoreIndex is non-negative, locations labeled with it get all-zero
// rows instead of a one-hot encoding. Pass a negative ignoreIndex to disable.
func AsOneHot(labels *Node, numClasses int, ignoreIndex int, dtype dtypes.DType) *Node {
	if labels.Rank() < 3 || labels.Shape().Dimensions[1] != 1 {
		Panicf("labels must be shaped (N, 1, ..., X), got %s", labels.Shape())
	}
	if !labels.DType().IsInt() {
		Panicf("labels must be integer, got %s", labels.DType())
	}
	if numClasses < 1 {
		Panicf("numClasses must be positive, got %d", numClasses)
	}
	g := labels.Graph()
	idx := Squeeze(labels, 1)
	depth := numClasses
	if ignoreIndex >= 0 {
		// Route ignored labels to an extra class, dropped after encoding.
		ignored := Equal(idx, Scalar(g, idx.DType(), float64(ignoreIndex)))
		idx = Where(ignored, Scalar(g, idx.DType(), float64(numClasses)), idx)
		depth = numClasses + 1
	}
	oneHot := coords.ChannelsFirst(OneHot(idx, depth, dtype))
	if ignoreIndex >= 0 {
		specs := fullSlice(oneHot.Rank())
		specs[1] = AxisRange(0, numClasses)
		oneHot = Slice(oneHot, specs...)
	}
	return oneHot
}
