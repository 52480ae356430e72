// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package magenv

import "fmt"

// Config holds all dataset and network training settings in one place.
// It is constructed once (Defaults then any command-line overrides) and
// then passed read-only to every component -- nothing mutates it after
// construction.
type Config struct {
	IncludeFillers bool        `def:"true" desc:"separate compare trials with 2-4 filler trials, as in the source experiment -- false gives runs of consecutive compare trials"`
	WhichContext   int         `def:"0" desc:"train on a single context range only: 0 = all contexts, 1 = low range only, 2 = high range only"`
	Interleave     bool        `def:"false" desc:"interleave the context number ranges within each block -- false blocks training by context"`
	LabelContext   LabelPolicy `desc:"how the context is labelled in the input stream: true, random or constant"`
	TrainLong      bool        `def:"false" desc:"train on the long-sequence (linking pair) curriculum instead of the short one"`
	CrossRangeNaN  bool        `def:"true" desc:"mark comparisons between mutually exclusive low/high numbers as undefined (excluded from loss) -- only applies to the short-sequence regime"`
	SeqLen         int         `def:"120" desc:"trials per sequence = backprop through time horizon"`
	NTrain         int         `def:"2880" desc:"number of training sequences"`
	NTest          int         `def:"480" desc:"number of sequences per test set"`
	MBlocks        int         `def:"24" desc:"number of blocks the sequences are divided into"`
	MTestSets      int         `def:"2" desc:"number of test sets -- the extra ones cross-validate activation extraction"`

	RetainState     bool    `def:"true" desc:"retain the hidden state across sequence boundaries -- false resets it to zero each sequence"`
	RetrainDecoder  bool    `def:"false" desc:"decoder retraining mode: lesion the number input on alternating compare trials"`
	TrainLesionFreq float32 `def:"0" desc:"frequency of number-input lesions on compare trials during training"`
	NoiseStd        float32 `def:"0" desc:"std dev of iid noise injected into the recurrent hidden state before each step"`
	RecurrentSize   int     `def:"200" desc:"number of units in the recurrent layer"`
	HiddenSize      int     `def:"200" desc:"number of units in the hidden layer"`
	Lr              float32 `def:"0.0001" desc:"learning rate"`
	Momentum        float32 `def:"0.9" desc:"SGD momentum"`
	WtDecay         float32 `def:"0" desc:"weight decay for L2 regularisation"`
	Epochs          int     `def:"10" desc:"epoch budget for the long-sequence curriculum (short trains to criterion)"`
	BatchSize       int     `def:"1" desc:"sequences per gradient step"`
	ModelID         int     `def:"0" desc:"distinguishes repeat trainings of the same model"`
	Recurrent       bool    `def:"true" desc:"use the recurrent network -- false selects the MLP variant"`
}

// Defaults sets default config values, matching the source design.
func (cf *Config) Defaults() {
	cf.IncludeFillers = true
	cf.WhichContext = 0
	cf.Interleave = false
	cf.LabelContext = LabelTrue
	cf.TrainLong = false
	cf.CrossRangeNaN = true
	cf.SeqLen = SeqLen
	cf.NTrain = NTrain
	cf.NTest = NTest
	cf.MBlocks = MBlocks
	cf.MTestSets = MTestSets
	cf.RetainState = true
	cf.RetrainDecoder = false
	cf.TrainLesionFreq = 0
	cf.NoiseStd = 0
	cf.RecurrentSize = 200
	cf.HiddenSize = 200
	cf.Lr = 0.0001
	cf.Momentum = 0.9
	cf.WtDecay = 0
	cf.Epochs = 10
	cf.BatchSize = 1
	cf.ModelID = 0
	cf.Recurrent = true
}

// InputSize is the full per-trial input vector size fed to the network:
// one-hot number, one-hot context label, trial-type bit.
func (cf *Config) InputSize() int {
	return TotalMaxNum + NContexts + NTypeBits
}

// TrainN returns the number of training sequences for the active curriculum.
func (cf *Config) TrainN() int {
	if cf.TrainLong {
		return NTrainLong
	}
	return cf.NTrain
}

// TestN returns the number of test sequences for the active curriculum.
func (cf *Config) TestN() int {
	if cf.TrainLong {
		return NTestLong
	}
	return cf.NTest
}

// Validate fails fast on configuration errors, before any data is built.
func (cf *Config) Validate() error {
	if cf.SeqLen <= 0 {
		return fmt.Errorf("magenv.Config: SeqLen must be positive, got %d", cf.SeqLen)
	}
	if cf.MBlocks <= 0 {
		return fmt.Errorf("magenv.Config: MBlocks must be positive, got %d", cf.MBlocks)
	}
	if cf.TrainN()%cf.MBlocks != 0 {
		return fmt.Errorf("magenv.Config: train sample count %d is not divisible by %d blocks", cf.TrainN(), cf.MBlocks)
	}
	if cf.TestN()%cf.MBlocks != 0 {
		return fmt.Errorf("magenv.Config: test sample count %d is not divisible by %d blocks", cf.TestN(), cf.MBlocks)
	}
	if cf.MTestSets < 2 {
		return fmt.Errorf("magenv.Config: need at least 2 test sets (evaluation + activation cross-validation), got %d", cf.MTestSets)
	}
	if cf.WhichContext < 0 || cf.WhichContext > NContexts {
		return fmt.Errorf("magenv.Config: WhichContext must be 0-%d, got %d", NContexts, cf.WhichContext)
	}
	if cf.WhichContext > 0 && cf.Interleave {
		return fmt.Errorf("magenv.Config: cannot interleave context ranges with a single context range (WhichContext=%d)", cf.WhichContext)
	}
	if cf.LabelContext < 0 || cf.LabelContext >= LabelPolicyN {
		return fmt.Errorf("magenv.Config: unsupported context labelling policy %d", cf.LabelContext)
	}
	return nil
}
