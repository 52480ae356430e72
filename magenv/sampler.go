// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package magenv

import (
	"fmt"
	"math"
	"math/rand"
)

// Trial is one time step of a generated stimulus sequence.
type Trial struct {
	Type         TrialType `desc:"compare or filler"`
	Stim         int       `desc:"stimulus number shown this step (the judged value on compare trials)"`
	Ref          int       `desc:"judged value of the most recent preceding compare trial; 0 before the first compare of the sequence"`
	Context      int       `desc:"true context digit, 1..NContexts"`
	ContextLabel int       `desc:"context digit presented to the network, per the labelling policy"`
	Label        float64   `desc:"correct magnitude judgement: 1 if Stim > Ref, 0 if smaller, NaN when undefined"`
}

// Sequence is one contiguous run of trials sharing a block's sampling regime.
type Sequence struct {
	Trials []Trial
}

// ValueContext gives the context a number belongs to when ranges are
// intermingled: low-range numbers are context 1, high-range context 2.
func ValueContext(n int) int {
	if n <= LowRangeMax {
		return 1
	}
	return 2
}

func numberRange(lo, hi int) []int {
	ns := make([]int, 0, hi-lo+1)
	for n := lo; n <= hi; n++ {
		ns = append(ns, n)
	}
	return ns
}

// interleavedDist is the non-uniform multiset covering the union of the
// full, low and high ranges, so context-range numbers are oversampled
// relative to a flat draw over 1..TotalMaxNum.
func interleavedDist() []int {
	ns := numberRange(FullRangeMin, FullRangeMax)
	ns = append(ns, numberRange(LowRangeMin, LowRangeMax)...)
	ns = append(ns, numberRange(HighRangeMin, HighRangeMax)...)
	return ns
}

// BlockSampler generates the stimulus sequences for one block, holding the
// block's number distribution, context regime, and the judgement value
// carried across sequence boundaries within the block.
type BlockSampler struct {
	Cfg       *Config `desc:"read-only dataset configuration"`
	Dist      []int   `desc:"multiset of candidate compare numbers for this block"`
	Ctx       int     `desc:"fixed context digit for blocked training; unused when DeriveCtx"`
	DeriveCtx bool    `desc:"derive the context of each compare from its sampled value"`
	Test      bool    `desc:"test-phase block"`
	NSeq      int     `desc:"sequences generated so far in this block"`
	carry     int     // judgement value threaded into the next sequence; 0 = fresh draw
}

// NewBlockSampler sets up the sampling regime for the given block of the
// given phase. Training blocks are split evenly between the low and high
// context ranges (or pinned to one range, or interleaved); the long-sequence
// curriculum trains on the linking pair only; test blocks span the full range.
func NewBlockSampler(cf *Config, block int, test bool) (*BlockSampler, error) {
	bs := &BlockSampler{Cfg: cf, Test: test}
	switch {
	case !test && cf.TrainLong:
		bs.Dist = numberRange(LowRangeMax, HighRangeMin)
		bs.DeriveCtx = true
	case cf.Interleave:
		bs.Dist = interleavedDist()
		bs.DeriveCtx = true
	case test:
		bs.Dist = numberRange(FullRangeMin, FullRangeMax)
		bs.DeriveCtx = true
	case cf.WhichContext == 1:
		bs.Dist = numberRange(LowRangeMin, LowRangeMax)
		bs.Ctx = 1
	case cf.WhichContext == 2:
		bs.Dist = numberRange(HighRangeMin, HighRangeMax)
		bs.Ctx = 2
	default:
		if block < cf.MBlocks/NContexts {
			bs.Dist = numberRange(LowRangeMin, LowRangeMax)
			bs.Ctx = 1
		} else {
			bs.Dist = numberRange(HighRangeMin, HighRangeMax)
			bs.Ctx = 2
		}
	}
	if len(bs.Dist) < 2 {
		return nil, fmt.Errorf("magenv: degenerate number distribution %v for block %d -- cannot sample distinct adjacent numbers", bs.Dist, block)
	}
	return bs, nil
}

// drawNot samples from the block distribution, resampling until the result
// differs from avoid. The distribution is checked non-degenerate at
// construction so this terminates.
func (bs *BlockSampler) drawNot(avoid int) int {
	n := bs.Dist[rand.Intn(len(bs.Dist))]
	for n == avoid {
		n = bs.Dist[rand.Intn(len(bs.Dist))]
	}
	return n
}

func (bs *BlockSampler) contextLabel(ctx int) int {
	switch bs.Cfg.LabelContext {
	case LabelRandom:
		return 1 + rand.Intn(NContexts)
	case LabelConstant:
		return 1
	default:
		return ctx
	}
}

// Sequence generates one stimulus sequence over the given trial-type layout.
// The first trial must be a compare trial (the generator guarantees this).
// Judgement values are threaded across sequence boundaries: the first compare
// of a block's first sequence draws a fresh reference, later sequences pick
// up where the previous one left off.
func (bs *BlockSampler) Sequence(types []TrialType) (*Sequence, error) {
	if len(types) == 0 || types[0] != Compare {
		return nil, fmt.Errorf("magenv: sequence must start with a compare trial")
	}
	cf := bs.Cfg
	sq := &Sequence{Trials: make([]Trial, len(types))}

	ctx := bs.Ctx
	judge := 0
	prevFiller := 0
	prevType := TrialTypeN // no previous trial yet
	for i, tt := range types {
		tr := &sq.Trials[i]
		tr.Type = tt
		if tt == Compare {
			ref := bs.carry
			if ref == 0 { // first compare of the block
				ref = bs.Dist[rand.Intn(len(bs.Dist))]
			}
			if judge != 0 {
				ref = judge
			}
			judge = bs.drawNot(ref)
			tr.Stim = judge
			if bs.DeriveCtx {
				ctx = ValueContext(judge)
			}
		} else {
			stim := FullRangeMin + rand.Intn(FullRangeMax-FullRangeMin+1)
			// the filler right after a compare must differ from the last filler
			if prevFiller != 0 && prevType == Compare {
				for stim == prevFiller {
					stim = FullRangeMin + rand.Intn(FullRangeMax-FullRangeMin+1)
				}
			}
			prevFiller = stim
			tr.Stim = stim
			if cf.Interleave {
				ctx = 1 + rand.Intn(NContexts) // zeroed downstream anyway
			}
		}
		prevType = tt
		tr.Context = ctx
		tr.ContextLabel = bs.contextLabel(ctx)
	}

	// label pass: each compare is judged against the previous compare's
	// value within this sequence, so the first compare is undefined
	ref := 0
	for i := range sq.Trials {
		tr := &sq.Trials[i]
		tr.Ref = ref
		if tr.Type != Compare {
			continue
		}
		switch {
		case ref == 0:
			tr.Label = math.NaN()
		case crossRange(tr.Stim, ref) && cf.CrossRangeNaN && !cf.TrainLong:
			tr.Label = math.NaN()
		case tr.Stim > ref:
			tr.Label = 1
		default:
			tr.Label = 0
		}
		ref = tr.Stim
	}

	if bs.NSeq == 0 {
		// the next sequence continues from the final stimulus shown,
		// whether or not it was a compare trial
		bs.carry = sq.Trials[len(sq.Trials)-1].Stim
	} else {
		bs.carry = judge
	}
	bs.NSeq++
	return sq, nil
}

// crossRange reports whether the two numbers come from mutually exclusive
// context ranges, which makes their relative magnitude unobservable within
// either context.
func crossRange(a, b int) bool {
	return (a <= LowRangeMax && b >= HighRangeMin) || (a >= HighRangeMin && b <= LowRangeMax)
}
