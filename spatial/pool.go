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
	"github.com/gomlx/gomlx/types/tensors/images"
)

// AvgPool computes the mean over a sliding window of the given size, with
// stride 1 and same-size padding, on a channels-first tensor `(N, C, ..., X)`.
// At the boundary the mean is taken over the in-bounds values only, so edge
// windows are not biased towards zero.
func AvgPool(x *Node, size int) *Node {
	if x.Rank() < 3 {
		Panicf("AvgPool requires a channels-first tensor of shape (N, C, ..., X), got %s", x.Shape())
	}
	if size < 1 {
		Panicf("window size must be positive, got %d", size)
	}
	return MeanPool(x).
		ChannelsAxis(images.ChannelsFirst).
		Window(size).
		Strides(1).
		PadSame().
		Done()
}
