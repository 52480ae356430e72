// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package magenv

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/emer/etable/etensor"
)

// Split holds one dataset phase (train or test) as a set of aligned tensors
// whose leading dimension indexes sequences.
type Split struct {
	Index        *etensor.Int     `desc:"sequence index within the phase [N]"`
	Block        *etensor.Int     `desc:"block each sequence belongs to [N]"`
	TrialType    *etensor.Int     `desc:"compare / filler per trial [N, SeqLen]"`
	ContextDigit *etensor.Int     `desc:"true context digit per trial [N, SeqLen]"`
	Label        *etensor.Float64 `desc:"magnitude judgement target per trial, NaN where undefined [N, SeqLen]"`
	Input        *etensor.Float32 `desc:"one-hot stimulus per trial [N, SeqLen, TotalMaxNum]"`
	RefValue     *etensor.Float32 `desc:"one-hot preceding compare value per trial, zeros before the first compare [N, SeqLen, TotalMaxNum]"`
	JudgeValue   *etensor.Float32 `desc:"one-hot judged (current) value per trial [N, SeqLen, TotalMaxNum]"`
	Context      *etensor.Float32 `desc:"one-hot true context per trial [N, SeqLen, NContexts]"`
	ContextInput *etensor.Float32 `desc:"one-hot context label presented to the network [N, SeqLen, NContexts]"`
}

// NewSplit allocates the tensors for n sequences of seqLen trials each.
func NewSplit(n, seqLen int) *Split {
	sp := &Split{}
	sp.Index = etensor.NewInt([]int{n}, nil, []string{"Seq"})
	sp.Block = etensor.NewInt([]int{n}, nil, []string{"Seq"})
	sp.TrialType = etensor.NewInt([]int{n, seqLen}, nil, []string{"Seq", "Trial"})
	sp.ContextDigit = etensor.NewInt([]int{n, seqLen}, nil, []string{"Seq", "Trial"})
	sp.Label = etensor.NewFloat64([]int{n, seqLen}, nil, []string{"Seq", "Trial"})
	sp.Input = etensor.NewFloat32([]int{n, seqLen, TotalMaxNum}, nil, []string{"Seq", "Trial", "Num"})
	sp.RefValue = etensor.NewFloat32([]int{n, seqLen, TotalMaxNum}, nil, []string{"Seq", "Trial", "Num"})
	sp.JudgeValue = etensor.NewFloat32([]int{n, seqLen, TotalMaxNum}, nil, []string{"Seq", "Trial", "Num"})
	sp.Context = etensor.NewFloat32([]int{n, seqLen, NContexts}, nil, []string{"Seq", "Trial", "Ctx"})
	sp.ContextInput = etensor.NewFloat32([]int{n, seqLen, NContexts}, nil, []string{"Seq", "Trial", "Ctx"})
	return sp
}

// NumSeqs returns the number of sequences in the split.
func (sp *Split) NumSeqs() int {
	return sp.Index.Dim(0)
}

// SeqLen returns the number of trials per sequence.
func (sp *Split) SeqLen() int {
	return sp.Label.Dim(1)
}

// SetSeq writes one generated sequence into row seq of the split.
func (sp *Split) SetSeq(seq, block int, sq *Sequence) {
	sl := sp.SeqLen()
	sp.Index.Values[seq] = seq
	sp.Block.Values[seq] = block
	for i, tr := range sq.Trials {
		ti := seq*sl + i
		sp.TrialType.Values[ti] = int(tr.Type)
		sp.ContextDigit.Values[ti] = tr.Context
		sp.Label.Values[ti] = tr.Label
		oneHot(sp.Input.Values[ti*TotalMaxNum:(ti+1)*TotalMaxNum], tr.Stim)
		oneHot(sp.JudgeValue.Values[ti*TotalMaxNum:(ti+1)*TotalMaxNum], tr.Stim)
		oneHot(sp.RefValue.Values[ti*TotalMaxNum:(ti+1)*TotalMaxNum], tr.Ref)
		oneHot(sp.Context.Values[ti*NContexts:(ti+1)*NContexts], tr.Context)
		oneHot(sp.ContextInput.Values[ti*NContexts:(ti+1)*NContexts], tr.ContextLabel)
	}
}

// oneHot writes a one-hot encoding of n (1-based) into vals, which must
// already be the right size. n = 0 leaves all zeros.
func oneHot(vals []float32, n int) {
	for i := range vals {
		vals[i] = 0
	}
	if n > 0 && n <= len(vals) {
		vals[n-1] = 1
	}
}

// oneHotToInt recovers the 1-based integer from a one-hot slice, 0 if empty.
func oneHotToInt(vals []float32) int {
	for i, v := range vals {
		if v == 1 {
			return i + 1
		}
	}
	return 0
}

// Trial reconstructs the trial at (seq, i) from the stored tensors.
func (sp *Split) Trial(seq, i int) Trial {
	sl := sp.SeqLen()
	ti := seq*sl + i
	return Trial{
		Type:         TrialType(sp.TrialType.Values[ti]),
		Stim:         oneHotToInt(sp.JudgeValue.Values[ti*TotalMaxNum : (ti+1)*TotalMaxNum]),
		Ref:          oneHotToInt(sp.RefValue.Values[ti*TotalMaxNum : (ti+1)*TotalMaxNum]),
		Context:      sp.ContextDigit.Values[ti],
		ContextLabel: oneHotToInt(sp.ContextInput.Values[ti*NContexts : (ti+1)*NContexts]),
		Label:        sp.Label.Values[ti],
	}
}

// Validate audits the split for internal consistency: label correctness
// against the judged and reference values, context-range agreement, and
// undefined labels exactly where magnitude is unobservable. checkCtx should
// be false for regimes where the context digit is decoupled from the
// stimulus range (long curriculum).
func (sp *Split) Validate(cf *Config, checkCtx bool) error {
	for seq := 0; seq < sp.NumSeqs(); seq++ {
		for i := 0; i < sp.SeqLen(); i++ {
			tr := sp.Trial(seq, i)
			if tr.Type != Compare {
				continue
			}
			if tr.Stim == tr.Ref {
				return fmt.Errorf("magenv: seq %d trial %d: judged value %d equals reference", seq, i, tr.Stim)
			}
			switch {
			case tr.Ref == 0:
				if !math.IsNaN(tr.Label) {
					return fmt.Errorf("magenv: seq %d trial %d: no reference yet but label is %g", seq, i, tr.Label)
				}
			case crossRange(tr.Stim, tr.Ref) && cf.CrossRangeNaN && !cf.TrainLong:
				if !math.IsNaN(tr.Label) {
					return fmt.Errorf("magenv: seq %d trial %d: cross-range pair (%d, %d) but label is %g", seq, i, tr.Stim, tr.Ref, tr.Label)
				}
			case math.IsNaN(tr.Label):
				return fmt.Errorf("magenv: seq %d trial %d: unexpected undefined label for pair (%d, %d)", seq, i, tr.Stim, tr.Ref)
			case tr.Stim > tr.Ref && tr.Label != 1:
				return fmt.Errorf("magenv: seq %d trial %d: %d > %d but label is %g", seq, i, tr.Stim, tr.Ref, tr.Label)
			case tr.Stim < tr.Ref && tr.Label != 0:
				return fmt.Errorf("magenv: seq %d trial %d: %d < %d but label is %g", seq, i, tr.Stim, tr.Ref, tr.Label)
			}
			if checkCtx && tr.Context != ValueContext(tr.Stim) {
				return fmt.Errorf("magenv: seq %d trial %d: judged value %d in context %d", seq, i, tr.Stim, tr.Context)
			}
		}
	}
	return nil
}

// Dataset bundles the training split with the two test splits used for
// evaluation and activation cross-validation, along with the configuration
// it was generated under.
type Dataset struct {
	Cfg      Config `desc:"configuration the dataset was generated with"`
	Train    *Split `desc:"training sequences"`
	Test     *Split `desc:"test sequences for evaluation"`
	CrossVal *Split `desc:"held-out test sequences for cross-validating activations"`
}

// NewDataset generates a full dataset under the given configuration:
// one training split plus MTestSets test splits, each divided into blocks
// with the per-block sampling regimes.
func NewDataset(cf *Config) (*Dataset, error) {
	if err := cf.Validate(); err != nil {
		return nil, err
	}
	ds := &Dataset{Cfg: *cf}
	tests := make([]*Split, cf.MTestSets)
	var err error
	if ds.Train, err = genSplit(cf, false); err != nil {
		return nil, err
	}
	for i := range tests {
		if tests[i], err = genSplit(cf, true); err != nil {
			return nil, err
		}
	}
	ds.Test = tests[0]
	ds.CrossVal = tests[1]
	return ds, nil
}

func genSplit(cf *Config, test bool) (*Split, error) {
	n := cf.TrainN()
	if test {
		n = cf.TestN()
	}
	sp := NewSplit(n, cf.SeqLen)
	perBlock := n / cf.MBlocks
	for block := 0; block < cf.MBlocks; block++ {
		bs, err := NewBlockSampler(cf, block, test)
		if err != nil {
			return nil, err
		}
		for s := 0; s < perBlock; s++ {
			types, err := GenerateTrialTypes(cf.IncludeFillers, cf.SeqLen)
			if err != nil {
				return nil, err
			}
			sq, err := bs.Sequence(types)
			if err != nil {
				return nil, err
			}
			sp.SetSeq(block*perBlock+s, block, sq)
		}
	}
	return sp, nil
}

// undefLabel stands in for NaN labels in the JSON artifact, since JSON has
// no encoding for NaN.
const undefLabel = -1

type tensorF32 struct {
	Shape  []int     `json:"shape"`
	Names  []string  `json:"names,omitempty"`
	Values []float32 `json:"values"`
}

type tensorF64 struct {
	Shape  []int     `json:"shape"`
	Names  []string  `json:"names,omitempty"`
	Values []float64 `json:"values"`
}

type tensorInt struct {
	Shape  []int    `json:"shape"`
	Names  []string `json:"names,omitempty"`
	Values []int    `json:"values"`
}

type splitDTO struct {
	Index        tensorInt `json:"index"`
	Block        tensorInt `json:"block"`
	TrialType    tensorInt `json:"trialtype"`
	ContextDigit tensorInt `json:"contextdigit"`
	Label        tensorF64 `json:"label"`
	Input        tensorF32 `json:"input"`
	RefValue     tensorF32 `json:"refvalue"`
	JudgeValue   tensorF32 `json:"judgevalue"`
	Context      tensorF32 `json:"context"`
	ContextInput tensorF32 `json:"contextinput"`
}

type datasetDTO struct {
	Cfg      Config   `json:"config"`
	Train    splitDTO `json:"trainset"`
	Test     splitDTO `json:"testset"`
	CrossVal splitDTO `json:"crossval_testset"`
}

func f32DTO(t *etensor.Float32) tensorF32 {
	return tensorF32{Shape: t.Shp, Names: t.Nms, Values: t.Values}
}

func intDTO(t *etensor.Int) tensorInt {
	return tensorInt{Shape: t.Shp, Names: t.Nms, Values: t.Values}
}

func f64DTO(t *etensor.Float64) tensorF64 {
	vals := make([]float64, len(t.Values))
	for i, v := range t.Values {
		if math.IsNaN(v) {
			vals[i] = undefLabel
		} else {
			vals[i] = v
		}
	}
	return tensorF64{Shape: t.Shp, Names: t.Nms, Values: vals}
}

func splitToDTO(sp *Split) splitDTO {
	return splitDTO{
		Index:        intDTO(sp.Index),
		Block:        intDTO(sp.Block),
		TrialType:    intDTO(sp.TrialType),
		ContextDigit: intDTO(sp.ContextDigit),
		Label:        f64DTO(sp.Label),
		Input:        f32DTO(sp.Input),
		RefValue:     f32DTO(sp.RefValue),
		JudgeValue:   f32DTO(sp.JudgeValue),
		Context:      f32DTO(sp.Context),
		ContextInput: f32DTO(sp.ContextInput),
	}
}

func f32FromDTO(d tensorF32) *etensor.Float32 {
	t := etensor.NewFloat32(d.Shape, nil, d.Names)
	copy(t.Values, d.Values)
	return t
}

func intFromDTO(d tensorInt) *etensor.Int {
	t := etensor.NewInt(d.Shape, nil, d.Names)
	copy(t.Values, d.Values)
	return t
}

func f64FromDTO(d tensorF64) *etensor.Float64 {
	t := etensor.NewFloat64(d.Shape, nil, d.Names)
	for i, v := range d.Values {
		if v == undefLabel {
			t.Values[i] = math.NaN()
		} else {
			t.Values[i] = v
		}
	}
	return t
}

func splitFromDTO(d splitDTO) *Split {
	return &Split{
		Index:        intFromDTO(d.Index),
		Block:        intFromDTO(d.Block),
		TrialType:    intFromDTO(d.TrialType),
		ContextDigit: intFromDTO(d.ContextDigit),
		Label:        f64FromDTO(d.Label),
		Input:        f32FromDTO(d.Input),
		RefValue:     f32FromDTO(d.RefValue),
		JudgeValue:   f32FromDTO(d.JudgeValue),
		Context:      f32FromDTO(d.Context),
		ContextInput: f32FromDTO(d.ContextInput),
	}
}

// Save writes the dataset as one gzipped JSON artifact.
func (ds *Dataset) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	dto := datasetDTO{
		Cfg:      ds.Cfg,
		Train:    splitToDTO(ds.Train),
		Test:     splitToDTO(ds.Test),
		CrossVal: splitToDTO(ds.CrossVal),
	}
	if err := json.NewEncoder(gz).Encode(&dto); err != nil {
		gz.Close()
		return fmt.Errorf("magenv: encoding dataset %s: %w", path, err)
	}
	return gz.Close()
}

// OpenDataset loads a dataset previously written with Save.
func OpenDataset(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("magenv: opening dataset %s: %w", path, err)
	}
	defer gz.Close()
	var dto datasetDTO
	if err := json.NewDecoder(gz).Decode(&dto); err != nil {
		return nil, fmt.Errorf("magenv: decoding dataset %s: %w", path, err)
	}
	ds := &Dataset{
		Cfg:      dto.Cfg,
		Train:    splitFromDTO(dto.Train),
		Test:     splitFromDTO(dto.Test),
		CrossVal: splitFromDTO(dto.CrossVal),
	}
	return ds, nil
}
