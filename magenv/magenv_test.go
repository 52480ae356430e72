// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package magenv

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/emer/emergent/env"
)

func TestGenerateTrialTypes(t *testing.T) {
	rand.Seed(1)
	seq, err := GenerateTrialTypes(true, SeqLen)
	if err != nil {
		t.Fatal(err)
	}
	if len(seq) != SeqLen {
		t.Errorf("sequence length %d != %d", len(seq), SeqLen)
	}
	if seq[0] != Compare {
		t.Errorf("sequence does not start with a compare trial")
	}
	ncmp := 0
	for _, tt := range seq {
		if tt == Compare {
			ncmp++
		}
	}
	if ncmp != 30 {
		t.Errorf("got %d compare trials, want 30", ncmp)
	}
	// filler gaps between compares must be 2-4
	gap := -1
	for _, tt := range seq {
		if tt == Compare {
			if gap >= 0 && (gap < 2 || gap > 4) {
				t.Errorf("filler gap of %d between compare trials", gap)
			}
			gap = 0
		} else {
			gap++
		}
	}
}

func TestGenerateTrialTypesNoFillers(t *testing.T) {
	seq, err := GenerateTrialTypes(false, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(seq) != 20 {
		t.Errorf("sequence length %d != 20", len(seq))
	}
	for i, tt := range seq {
		if tt != Compare {
			t.Errorf("trial %d is %v, want Compare", i, tt)
		}
	}
}

func TestGenerateTrialTypesBadLen(t *testing.T) {
	if _, err := GenerateTrialTypes(true, 100); err == nil {
		t.Errorf("expected error for sequence length not matching the filler runs")
	}
}

func TestConfigValidate(t *testing.T) {
	var cf Config
	cf.Defaults()
	if err := cf.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
	bad := cf
	bad.NTrain = 100 // not divisible by 24 blocks
	if err := bad.Validate(); err == nil {
		t.Errorf("expected error for train count not divisible by blocks")
	}
	bad = cf
	bad.WhichContext = 3
	if err := bad.Validate(); err == nil {
		t.Errorf("expected error for out-of-range context selector")
	}
	bad = cf
	bad.WhichContext = 1
	bad.Interleave = true
	if err := bad.Validate(); err == nil {
		t.Errorf("expected error for interleave with a single context range")
	}
	bad = cf
	bad.MTestSets = 1
	if err := bad.Validate(); err == nil {
		t.Errorf("expected error for fewer than 2 test sets")
	}
}

func TestBlockSamplerRanges(t *testing.T) {
	rand.Seed(2)
	var cf Config
	cf.Defaults()
	for block := 0; block < cf.MBlocks; block++ {
		bs, err := NewBlockSampler(&cf, block, false)
		if err != nil {
			t.Fatal(err)
		}
		wantCtx := 1
		lo, hi := LowRangeMin, LowRangeMax
		if block >= cf.MBlocks/NContexts {
			wantCtx = 2
			lo, hi = HighRangeMin, HighRangeMax
		}
		if bs.Ctx != wantCtx {
			t.Errorf("block %d: context %d, want %d", block, bs.Ctx, wantCtx)
		}
		types, _ := GenerateTrialTypes(true, cf.SeqLen)
		sq, err := bs.Sequence(types)
		if err != nil {
			t.Fatal(err)
		}
		for i, tr := range sq.Trials {
			if tr.Type != Compare {
				continue
			}
			if tr.Stim < lo || tr.Stim > hi {
				t.Errorf("block %d trial %d: compare value %d outside %d-%d", block, i, tr.Stim, lo, hi)
			}
			if tr.Context != wantCtx {
				t.Errorf("block %d trial %d: context %d, want %d", block, i, tr.Context, wantCtx)
			}
		}
	}
}

func TestSequenceConstraints(t *testing.T) {
	rand.Seed(3)
	var cf Config
	cf.Defaults()
	bs, err := NewBlockSampler(&cf, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	var prev *Sequence
	for s := 0; s < 20; s++ {
		types, _ := GenerateTrialTypes(true, cf.SeqLen)
		sq, err := bs.Sequence(types)
		if err != nil {
			t.Fatal(err)
		}
		firstCmp := -1
		lastJudge := 0
		for i, tr := range sq.Trials {
			switch tr.Type {
			case Compare:
				if firstCmp < 0 {
					firstCmp = i
					if tr.Ref != 0 {
						t.Errorf("seq %d: first compare has reference %d, want 0", s, tr.Ref)
					}
					if !math.IsNaN(tr.Label) {
						t.Errorf("seq %d: first compare label %g, want NaN", s, tr.Label)
					}
				} else {
					if tr.Ref != lastJudge {
						t.Errorf("seq %d trial %d: reference %d, want previous judged value %d", s, i, tr.Ref, lastJudge)
					}
					if tr.Stim == tr.Ref {
						t.Errorf("seq %d trial %d: judged value repeats reference %d", s, i, tr.Stim)
					}
					want := 0.0
					if tr.Stim > tr.Ref {
						want = 1
					}
					if tr.Label != want {
						t.Errorf("seq %d trial %d: label %g for pair (%d, %d)", s, i, tr.Label, tr.Stim, tr.Ref)
					}
				}
				lastJudge = tr.Stim
			case Filler:
				if i > 0 && sq.Trials[i-1].Type == Compare && s == 0 && i > 3 {
					// filler after a compare differs from the prior filler
					pf := 0
					for j := i - 1; j >= 0; j-- {
						if sq.Trials[j].Type == Filler {
							pf = sq.Trials[j].Stim
							break
						}
					}
					if pf != 0 && tr.Stim == pf {
						t.Errorf("seq %d trial %d: filler %d repeats previous filler after a compare", s, i, tr.Stim)
					}
				}
			}
		}
		if prev != nil && s == 1 {
			// continuity: the first judged value avoids the carried value
			// from the previous sequence's final stimulus
			carry := prev.Trials[len(prev.Trials)-1].Stim
			if sq.Trials[firstCmp].Stim == carry {
				t.Errorf("seq 1 first compare %d equals carried value %d", sq.Trials[firstCmp].Stim, carry)
			}
		}
		prev = sq
	}
}

func TestInterleavedContexts(t *testing.T) {
	rand.Seed(4)
	var cf Config
	cf.Defaults()
	cf.Interleave = true
	bs, err := NewBlockSampler(&cf, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	types, _ := GenerateTrialTypes(true, cf.SeqLen)
	sq, err := bs.Sequence(types)
	if err != nil {
		t.Fatal(err)
	}
	sawUndef := false
	for i, tr := range sq.Trials {
		if tr.Type != Compare {
			continue
		}
		if tr.Context != ValueContext(tr.Stim) {
			t.Errorf("trial %d: context %d for value %d", i, tr.Context, tr.Stim)
		}
		if tr.Ref != 0 && crossRange(tr.Stim, tr.Ref) {
			if !math.IsNaN(tr.Label) {
				t.Errorf("trial %d: cross-range pair (%d, %d) labelled %g", i, tr.Stim, tr.Ref, tr.Label)
			}
			sawUndef = true
		}
	}
	_ = sawUndef // cross-range pairs are probable but not guaranteed in one sequence
}

func TestLongRegime(t *testing.T) {
	rand.Seed(5)
	var cf Config
	cf.Defaults()
	cf.TrainLong = true
	bs, err := NewBlockSampler(&cf, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	types, _ := GenerateTrialTypes(true, cf.SeqLen)
	sq, err := bs.Sequence(types)
	if err != nil {
		t.Fatal(err)
	}
	for i, tr := range sq.Trials {
		if tr.Type != Compare {
			continue
		}
		if tr.Stim != LowRangeMax && tr.Stim != HighRangeMin {
			t.Errorf("trial %d: linking-pair value %d outside {%d, %d}", i, tr.Stim, LowRangeMax, HighRangeMin)
		}
		// linking pair crosses ranges but stays labelled in the long regime
		if tr.Ref != 0 && math.IsNaN(tr.Label) {
			t.Errorf("trial %d: undefined label in long regime", i)
		}
	}
}

func TestLabelPolicies(t *testing.T) {
	rand.Seed(6)
	var cf Config
	cf.Defaults()
	cf.LabelContext = LabelConstant
	bs, err := NewBlockSampler(&cf, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	types, _ := GenerateTrialTypes(true, cf.SeqLen)
	sq, err := bs.Sequence(types)
	if err != nil {
		t.Fatal(err)
	}
	for i, tr := range sq.Trials {
		if tr.ContextLabel != 1 {
			t.Errorf("trial %d: constant policy gave label %d", i, tr.ContextLabel)
		}
	}
	cf.LabelContext = LabelRandom
	bs, _ = NewBlockSampler(&cf, 0, false)
	sq, _ = bs.Sequence(types)
	for i, tr := range sq.Trials {
		if tr.ContextLabel < 1 || tr.ContextLabel > NContexts {
			t.Errorf("trial %d: random policy gave label %d", i, tr.ContextLabel)
		}
	}
}

func smallConfig() *Config {
	var cf Config
	cf.Defaults()
	cf.NTrain = 48
	cf.NTest = 24
	return &cf
}

func TestDatasetGenerate(t *testing.T) {
	rand.Seed(7)
	cf := smallConfig()
	ds, err := NewDataset(cf)
	if err != nil {
		t.Fatal(err)
	}
	if n := ds.Train.NumSeqs(); n != cf.NTrain {
		t.Errorf("train split has %d sequences, want %d", n, cf.NTrain)
	}
	if n := ds.Test.NumSeqs(); n != cf.NTest {
		t.Errorf("test split has %d sequences, want %d", n, cf.NTest)
	}
	if err := ds.Train.Validate(cf, false); err != nil {
		t.Errorf("train split audit: %v", err)
	}
	if err := ds.Test.Validate(cf, true); err != nil {
		t.Errorf("test split audit: %v", err)
	}
	if err := ds.CrossVal.Validate(cf, true); err != nil {
		t.Errorf("crossval split audit: %v", err)
	}
}

func TestDatasetSaveOpen(t *testing.T) {
	rand.Seed(8)
	cf := smallConfig()
	ds, err := NewDataset(cf)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "dataset.json.gz")
	if err := ds.Save(path); err != nil {
		t.Fatal(err)
	}
	ld, err := OpenDataset(path)
	if err != nil {
		t.Fatal(err)
	}
	if ld.Train.NumSeqs() != ds.Train.NumSeqs() {
		t.Fatalf("loaded train split has %d sequences, want %d", ld.Train.NumSeqs(), ds.Train.NumSeqs())
	}
	for seq := 0; seq < ds.Train.NumSeqs(); seq += 7 {
		for i := 0; i < ds.Train.SeqLen(); i += 11 {
			a := ds.Train.Trial(seq, i)
			b := ld.Train.Trial(seq, i)
			if a.Stim != b.Stim || a.Ref != b.Ref || a.Context != b.Context || a.Type != b.Type {
				t.Fatalf("seq %d trial %d: loaded %+v != saved %+v", seq, i, b, a)
			}
			if math.IsNaN(a.Label) != math.IsNaN(b.Label) {
				t.Fatalf("seq %d trial %d: NaN labels not preserved", seq, i)
			}
			if !math.IsNaN(a.Label) && a.Label != b.Label {
				t.Fatalf("seq %d trial %d: label %g != %g", seq, i, b.Label, a.Label)
			}
		}
	}
	if ld.Cfg.NTrain != cf.NTrain {
		t.Errorf("loaded config NTrain %d, want %d", ld.Cfg.NTrain, cf.NTrain)
	}
}

func TestSeqEnv(t *testing.T) {
	rand.Seed(9)
	cf := smallConfig()
	ds, err := NewDataset(cf)
	if err != nil {
		t.Fatal(err)
	}
	ev := &SeqEnv{Nm: "TrainEnv", Dsc: "training sequences", Split: ds.Train}
	if err := ev.Validate(); err != nil {
		t.Fatal(err)
	}
	ev.Init(0)
	for s := 0; s < cf.NTrain; s++ {
		ev.Step()
		cur, _, _ := ev.Counter(env.Sequence)
		if cur != s {
			t.Fatalf("step %d: sequence counter %d", s, cur)
		}
		st := ev.State("Input")
		if st == nil {
			t.Fatal("nil Input state")
		}
		if st.Dim(0) != cf.SeqLen || st.Dim(1) != TotalMaxNum {
			t.Fatalf("Input state shape [%d, %d]", st.Dim(0), st.Dim(1))
		}
	}
	ev.Step() // wraps into a new epoch
	if cur, _, chg := ev.Counter(env.Epoch); cur != 1 || !chg {
		t.Errorf("epoch counter %d (changed %v) after full pass", cur, chg)
	}
}
