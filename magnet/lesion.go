// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package magnet

import (
	"fmt"

	"github.com/CPF2002/Knowledge-Assembly-RNN/magenv"
	"github.com/emer/emergent/erand"
	"github.com/emer/etable/agg"
	"github.com/emer/etable/etable"
	"github.com/emer/etable/etensor"
	"github.com/emer/etable/split"
	"github.com/goki/ki/kit"
)

// LesionKind selects which part of the input a lesion zeroes.
type LesionKind int

var KiT_LesionKind = kit.Enums.AddEnum(LesionKindN, false, nil)

const (
	// LesionNumber zeroes the one-hot number input
	LesionNumber LesionKind = iota

	// LesionContext zeroes the context label input
	LesionContext

	LesionKindN
)

func (lk LesionKind) String() string {
	switch lk {
	case LesionNumber:
		return "number"
	case LesionContext:
		return "context"
	}
	return fmt.Sprintf("LesionKind(%d)", int(lk))
}

// LesionAssessment records one lesioned assessment: the network's response
// on a compare trial after the preceding compare trials were lesioned.
type LesionAssessment struct {
	Seq          int        `desc:"sequence index within the split"`
	AssessIdx    int        `desc:"trial index of the assessed compare trial"`
	CompareIdx   int        `desc:"ordinal position of the assessed trial among the sequence's compare trials"`
	AssessNumber int        `desc:"number judged on the assessed trial"`
	LesionNumber int        `desc:"number that was lesioned on the immediately preceding compare trial"`
	Context      int        `desc:"true context of the assessed trial"`
	Freq         float32    `desc:"requested lesion frequency for earlier compare trials"`
	LesionPerf   int        `desc:"1 if the assessed trial was answered correctly after lesioning"`
	OverallPerf  int        `desc:"correct compare trials over the lesioned prefix replay"`
	LocalPerf    int        `desc:"1 if a policy comparing against the context mean answers correctly"`
	GlobalPerf   int        `desc:"1 if a policy comparing against the global mean answers correctly"`
	PostActs     []float32  `desc:"hidden layer activations just after the assessed trial"`
	Kind         LesionKind `desc:"which input was lesioned"`
}

// localBaseline answers the assessed trial by comparing the number against
// its context's mean value.
func localBaseline(number, context int, label float64) int {
	mean := magenv.LowRangeMean
	if context == 2 {
		mean = magenv.HighRangeMean
	}
	return baselineCorrect(float64(number) > mean, label)
}

// globalBaseline compares the number against the mean of the full range.
func globalBaseline(number int, label float64) int {
	return baselineCorrect(float64(number) > magenv.GlobalMean, label)
}

func baselineCorrect(higher bool, label float64) int {
	resp := 0.0
	if higher {
		resp = 1
	}
	if resp == label {
		return 1
	}
	return 0
}

// LesionTest evaluates the split under input lesions. For every compare
// trial past the first in each sequence, it lesions the immediately
// preceding compare trial (always) and each earlier compare trial with
// probability freq, replays the sequence prefix from the carried state, and
// records the network's answer on the assessed trial along with baseline
// policy answers and the post-assessment hidden activations. Returns the
// assessments, the percent accuracy on assessed trials, and the percent
// accuracy over all compare trials of the replays.
func (en *Engine) LesionTest(sp *magenv.Split, kind LesionKind, freq float32) ([]LesionAssessment, float64, float64, error) {
	cf := en.Cfg
	rsz := en.Net.RecurrentSize()
	latent := make([]float32, rsz)
	hidden := make([]float32, rsz)
	var all []LesionAssessment
	nAssess := 0
	assessCorrect := 0
	overallCompares := 0
	overallCorrect := 0

	sl := sp.SeqLen()
	for seq := 0; seq < sp.NumSeqs(); seq++ {
		base := en.seqInputs(sp, seq, nil)
		var replay [][]float32 // most recent lesioned prefix, for the state handoff
		for assess := 0; assess < sl; assess++ {
			if cf.RetainState {
				copy(hidden, latent)
			} else {
				zero(hidden)
			}
			if sp.TrialType.Values[seq*sl+assess] == int(magenv.Compare) && assess > 0 {
				lesioned := make([]bool, sl)
				prevCompare := true
				for i := assess - 1; i >= 0; i-- {
					if sp.TrialType.Values[seq*sl+i] != int(magenv.Compare) {
						continue
					}
					if prevCompare {
						lesioned[i] = true
						prevCompare = false
					} else if erand.BoolProb(float64(freq), -1) {
						lesioned[i] = true
					}
				}

				la := LesionAssessment{
					Seq:       seq,
					AssessIdx: assess,
					Freq:      freq,
					Kind:      kind,
				}
				tr := sp.Trial(seq, assess)
				la.AssessNumber = tr.Stim
				la.Context = tr.Context

				replay = make([][]float32, assess+1)
				for i := 0; i <= assess; i++ {
					x := make([]float32, len(base[i]))
					copy(x, base[i])
					if lesioned[i] {
						la.LesionNumber = sp.Trial(seq, i).Stim
						lesionInput(x, kind)
					}
					replay[i] = x
				}

				for i := 0; i <= assess; i++ {
					en.addNoise(hidden)
					var out float32
					out, hidden = en.Net.Step(replay[i], hidden, nil)
					if sp.TrialType.Values[seq*sl+i] != int(magenv.Compare) {
						continue
					}
					lb := sp.Label.Values[seq*sl+i]
					cor := 0
					if guess(out) == lb { // NaN labels never match, counted incorrect
						cor = 1
					}
					la.OverallPerf += cor
					overallCorrect += cor
					overallCompares++
					la.CompareIdx++
					if i == assess {
						la.LesionPerf = cor
						// probe the hidden layer the decoder read from by
						// re-presenting the assessed input to the new state
						hc := make([]float32, rsz)
						copy(hc, hidden)
						_, hid, _ := en.Net.Activations(replay[i], hc)
						la.PostActs = hid
					}
				}
				albl := sp.Label.Values[seq*sl+assess]
				la.LocalPerf = localBaseline(la.AssessNumber, la.Context, albl)
				la.GlobalPerf = globalBaseline(la.AssessNumber, albl)
				assessCorrect += la.LesionPerf
				nAssess++
				all = append(all, la)
			}
			// hand the carried state to the next sequence: replay the
			// whole sequence up to the snapshot trial once more from the
			// current state, lesioned through the last assessed compare
			// and unlesioned after it
			if assess == sl-2 && replay != nil {
				for i := 0; i <= sl-2; i++ {
					x := base[i]
					if i < len(replay) {
						x = replay[i]
					}
					en.addNoise(hidden)
					_, hidden = en.Net.Step(x, hidden, nil)
				}
				copy(latent, hidden)
			}
		}
	}
	if nAssess == 0 {
		return nil, 0, 0, fmt.Errorf("magnet: no assessable compare trials in split")
	}
	lesionAcc := 100 * float64(assessCorrect) / float64(nAssess)
	overallAcc := 100 * float64(overallCorrect) / float64(overallCompares)
	return all, lesionAcc, overallAcc, nil
}

// lesionInput zeroes the targeted part of an assembled input vector.
func lesionInput(x []float32, kind LesionKind) {
	if kind == LesionNumber {
		for i := 0; i < magenv.TotalMaxNum; i++ {
			x[i] = 0
		}
	} else {
		for i := magenv.TotalMaxNum; i < magenv.TotalMaxNum+magenv.NContexts; i++ {
			x[i] = 0
		}
	}
}

// LesionTable collects the assessments into a table for aggregation.
func LesionTable(all []LesionAssessment) *etable.Table {
	dt := &etable.Table{}
	nh := 0
	if len(all) > 0 {
		nh = len(all[0].PostActs)
	}
	sch := etable.Schema{
		{Name: "Seq", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "AssessIdx", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "CompareIdx", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "AssessNumber", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "LesionNumber", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "Context", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "Kind", Type: etensor.STRING, CellShape: nil, DimNames: nil},
		{Name: "Freq", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "LesionPerf", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "OverallPerf", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "LocalPerf", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "GlobalPerf", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "PostActs", Type: etensor.FLOAT32, CellShape: []int{nh}, DimNames: nil},
	}
	dt.SetFromSchema(sch, len(all))
	for row, la := range all {
		dt.SetCellFloat("Seq", row, float64(la.Seq))
		dt.SetCellFloat("AssessIdx", row, float64(la.AssessIdx))
		dt.SetCellFloat("CompareIdx", row, float64(la.CompareIdx))
		dt.SetCellFloat("AssessNumber", row, float64(la.AssessNumber))
		dt.SetCellFloat("LesionNumber", row, float64(la.LesionNumber))
		dt.SetCellFloat("Context", row, float64(la.Context))
		dt.SetCellString("Kind", row, la.Kind.String())
		dt.SetCellFloat("Freq", row, float64(la.Freq))
		dt.SetCellFloat("LesionPerf", row, float64(la.LesionPerf))
		dt.SetCellFloat("OverallPerf", row, float64(la.OverallPerf))
		dt.SetCellFloat("LocalPerf", row, float64(la.LocalPerf))
		dt.SetCellFloat("GlobalPerf", row, float64(la.GlobalPerf))
		if nh > 0 {
			acts := etensor.NewFloat32([]int{nh}, nil, nil)
			copy(acts.Values, la.PostActs)
			dt.SetCellTensor("PostActs", row, acts)
		}
	}
	return dt
}

// LesionStats aggregates assessment accuracy by context: mean network,
// local-policy and global-policy performance per context.
func LesionStats(dt *etable.Table) *etable.Table {
	ix := etable.NewIdxView(dt)
	spl := split.GroupBy(ix, []string{"Context"})
	split.Agg(spl, "LesionPerf", agg.AggMean)
	split.Agg(spl, "LocalPerf", agg.AggMean)
	split.Agg(spl, "GlobalPerf", agg.AggMean)
	return spl.AggsToTable(etable.AddAggName)
}
