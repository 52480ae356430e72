// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package magenv

import (
	"fmt"
	"math/rand"
)

// GenerateTrialTypes lays out the per-trial type sequence for one block of
// training: compare trials separated by variable-length filler runs.  Each
// sequence is built from 10 runs each of a compare trial followed by 2, 3 and
// 4 fillers, shuffled at the run level so the filler gaps vary unpredictably
// but the trial budget is exact.  With fillers disabled every trial is a
// compare trial.
func GenerateTrialTypes(includeFillers bool, seqLen int) ([]TrialType, error) {
	if !includeFillers {
		seq := make([]TrialType, seqLen)
		for i := range seq {
			seq[i] = Compare
		}
		return seq, nil
	}
	const runsPerLen = 10
	runLens := []int{3, 4, 5} // compare + 2, 3, 4 fillers
	runs := make([][]TrialType, 0, runsPerLen*len(runLens))
	total := 0
	for _, rl := range runLens {
		for i := 0; i < runsPerLen; i++ {
			run := make([]TrialType, rl)
			run[0] = Compare
			for j := 1; j < rl; j++ {
				run[j] = Filler
			}
			runs = append(runs, run)
			total += rl
		}
	}
	if total != seqLen {
		return nil, fmt.Errorf("magenv: filler runs sum to %d trials but sequence length is %d", total, seqLen)
	}
	seq := make([]TrialType, 0, seqLen)
	for _, ri := range rand.Perm(len(runs)) {
		seq = append(seq, runs[ri]...)
	}
	return seq, nil
}
