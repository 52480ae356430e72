// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package magenv generates the contextual magnitude-comparison environment:
temporally structured sequences of compare and filler trials, drawn from
context-dependent number ranges, matching the trial scheduling of the
source EEG experiment.  The network trained on this environment judges
whether the current compare number is larger than the previous one.
*/
package magenv

import (
	"fmt"

	"github.com/goki/ki/kit"
)

// Total maximum numbers for one-hot coding
const (
	// TotalMaxNum is the max numerosity (one-hot input size for numbers).
	TotalMaxNum = 8

	// NContexts is the number of contexts for one-hot coding.
	NContexts = 2

	// NTypeBits is the single input bit flagging compare vs. filler trials.
	NTypeBits = 1
)

// Upper and lower limits for each number range.
const (
	FullRangeMin = 1
	FullRangeMax = 8
	LowRangeMin  = 1
	LowRangeMax  = 4
	HighRangeMin = 5
	HighRangeMax = 8
)

// Mean values for each context, used by the hand-coded local / global
// comparison policies in lesion testing.
const (
	FullRangeMean = 4.5
	LowRangeMean  = 2.5
	HighRangeMean = 6.5
	GlobalMean    = 4.5
)

// Default dataset sizes, matching the source experiment: 24 blocks split
// across the contexts, with 2 extra test sets for cross-validation of
// activations.
const (
	NTrain    = 2880
	NTest     = 480
	MBlocks   = 24
	MTestSets = 2

	// Long-sequence (linking pair) curriculum sizes.
	NTrainLong = 480
	NTestLong  = 480
)

// SeqLen is the default number of trials per sequence = the backprop
// through time horizon = one block length.
const SeqLen = 120

// TrialType distinguishes filler trials from compare trials.
type TrialType int

const (
	// Filler trials separate judgements temporally and never contribute
	// to the loss.
	Filler TrialType = iota

	// Compare trials require a greater-than judgement against the
	// previous compare trial's number.
	Compare

	TrialTypeN
)

var KiT_TrialType = kit.Enums.AddEnum(TrialTypeN, false, nil)

func (tt TrialType) String() string {
	if tt == Compare {
		return "compare"
	}
	return "filler"
}

// LabelPolicy determines what context label is fed to the network.
type LabelPolicy int

const (
	// LabelTrue presents the real context of each trial.
	LabelTrue LabelPolicy = iota

	// LabelRandom presents an independently random context per trial.
	LabelRandom

	// LabelConstant presents a fixed context symbol regardless of the
	// true context, so the input carries no explicit context indicator.
	LabelConstant

	LabelPolicyN
)

var KiT_LabelPolicy = kit.Enums.AddEnum(LabelPolicyN, false, nil)

func (lp LabelPolicy) String() string {
	switch lp {
	case LabelRandom:
		return "random"
	case LabelConstant:
		return "constant"
	default:
		return "true"
	}
}

// LabelPolicyFromString parses the command-line form of a LabelPolicy.
func LabelPolicyFromString(s string) (LabelPolicy, error) {
	switch s {
	case "true":
		return LabelTrue, nil
	case "random":
		return LabelRandom, nil
	case "constant":
		return LabelConstant, nil
	}
	return LabelTrue, fmt.Errorf("magenv: unsupported context labelling policy %q", s)
}
