// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package magnet

import (
	"fmt"
	"log"
	"sort"

	"github.com/CPF2002/Knowledge-Assembly-RNN/magenv"
	"github.com/emer/etable/etable"
	"github.com/emer/etable/etensor"
	"github.com/emer/etable/metric"
	"github.com/emer/etable/simat"
)

// ActKey identifies a unique input instance for activation averaging: the
// judged number, the preceding compare number (0 for filler instances), and
// the true context.
type ActKey struct {
	Judge   int
	Prev    int
	Context int
}

// ActRecord holds the mean hidden activations over all instances of one
// unique input.
type ActRecord struct {
	Judge   int       `desc:"judged number"`
	Ref     int       `desc:"preceding compare number, 0 for filler records"`
	Context int       `desc:"true context"`
	Label   float64   `desc:"magnitude judgement target"`
	Count   int       `desc:"instances averaged over"`
	Acts    []float32 `desc:"mean hidden layer activations"`
}

// CollectActivations computes the mean hidden-layer activation for each
// unique input instance of the given trial type in the split. With state
// retention it makes a single pass over the sequences, carrying the state
// exactly as evaluation does, and averages activations over every instance
// of each unique (judged, preceding, context) input. Without retention each
// unique pair is presented in isolation from a zero state. Records are
// sorted by context, then judged value.
func (en *Engine) CollectActivations(sp *magenv.Split, tt magenv.TrialType) ([]ActRecord, error) {
	var recs map[ActKey]*ActRecord
	if en.Cfg.RetainState {
		recs = en.retainedActs(sp, tt)
	} else {
		recs = en.isolatedActs(sp, tt)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("magnet: no %v instances found in split", tt)
	}
	out := make([]ActRecord, 0, len(recs))
	for _, r := range recs {
		if r.Count == 0 {
			log.Printf("warning: input (judge %d, ref %d, context %d) had no instances", r.Judge, r.Ref, r.Context)
			r.Count = 1
		}
		n := float32(r.Count)
		for i := range r.Acts {
			r.Acts[i] /= n
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Context != out[j].Context {
			return out[i].Context < out[j].Context
		}
		if out[i].Judge != out[j].Judge {
			return out[i].Judge < out[j].Judge
		}
		return out[i].Ref < out[j].Ref
	})
	return out, nil
}

func (en *Engine) retainedActs(sp *magenv.Split, tt magenv.TrialType) map[ActKey]*ActRecord {
	recs := map[ActKey]*ActRecord{}
	rsz := en.Net.RecurrentSize()
	latent := make([]float32, rsz)
	hidden := make([]float32, rsz)
	sl := sp.SeqLen()
	for seq := 0; seq < sp.NumSeqs(); seq++ {
		ins := en.seqInputs(sp, seq, nil)
		copy(hidden, latent)
		prev := 0
		for i, x := range ins {
			rec, hid, _ := en.Net.Activations(x, hidden)
			hidden = rec
			if i == sl-2 {
				copy(latent, hidden)
			}
			tr := sp.Trial(seq, i)
			if tr.Type != tt {
				continue
			}
			if tt == magenv.Compare {
				if prev != 0 {
					accumActs(recs, ActKey{tr.Stim, prev, tr.Context}, tr, prev, hid)
				}
				prev = tr.Stim
			} else {
				accumActs(recs, ActKey{tr.Stim, 0, tr.Context}, tr, 0, hid)
			}
		}
	}
	return recs
}

// isolatedActs presents each unique pair on its own from a zero state:
// the preceding number then the judged number, probing the hidden layer on
// the second step.
func (en *Engine) isolatedActs(sp *magenv.Split, tt magenv.TrialType) map[ActKey]*ActRecord {
	recs := map[ActKey]*ActRecord{}
	rsz := en.Net.RecurrentSize()
	sl := sp.SeqLen()
	for seq := 0; seq < sp.NumSeqs(); seq++ {
		prev := 0
		for i := 0; i < sl; i++ {
			tr := sp.Trial(seq, i)
			if tr.Type != tt {
				continue
			}
			if tt == magenv.Compare {
				if prev != 0 {
					key := ActKey{tr.Stim, prev, tr.Context}
					if _, ok := recs[key]; !ok {
						hidden := make([]float32, rsz)
						_, hidden = en.Net.Step(en.pairInput(prev, tr), hidden, nil)
						_, hid, _ := en.Net.Activations(en.pairInput(tr.Stim, tr), hidden)
						r := &ActRecord{Judge: tr.Stim, Ref: prev, Context: tr.Context, Label: tr.Label, Count: 1, Acts: hid}
						recs[key] = r
					}
				}
				prev = tr.Stim
			} else {
				key := ActKey{tr.Stim, 0, tr.Context}
				if _, ok := recs[key]; !ok {
					hidden := make([]float32, rsz)
					_, hid, _ := en.Net.Activations(en.fillerInput(tr.Stim), hidden)
					recs[key] = &ActRecord{Judge: tr.Stim, Context: tr.Context, Label: tr.Label, Count: 1, Acts: hid}
				}
			}
		}
	}
	return recs
}

// pairInput assembles a compare-trial input for the given number using the
// trial's context label.
func (en *Engine) pairInput(num int, tr magenv.Trial) []float32 {
	x := make([]float32, magenv.TotalMaxNum+magenv.NContexts+magenv.NTypeBits)
	x[num-1] = 1
	if tr.ContextLabel > 0 {
		x[magenv.TotalMaxNum+tr.ContextLabel-1] = 1
	}
	x[magenv.TotalMaxNum+magenv.NContexts] = 1
	return x
}

// fillerInput assembles a filler-trial input: number only, no context label
// and the type bit clear.
func (en *Engine) fillerInput(num int) []float32 {
	x := make([]float32, magenv.TotalMaxNum+magenv.NContexts+magenv.NTypeBits)
	x[num-1] = 1
	return x
}

func accumActs(recs map[ActKey]*ActRecord, key ActKey, tr magenv.Trial, ref int, hid []float32) {
	r, ok := recs[key]
	if !ok {
		r = &ActRecord{Judge: tr.Stim, Ref: ref, Context: tr.Context, Label: tr.Label}
		r.Acts = make([]float32, len(hid))
		recs[key] = r
	}
	for i, v := range hid {
		r.Acts[i] += v
	}
	r.Count++
}

// ActTable collects activation records into a table for similarity
// analysis, with a Name label column of the form c<context>_j<judge>_r<ref>.
func ActTable(recs []ActRecord) *etable.Table {
	nh := 0
	if len(recs) > 0 {
		nh = len(recs[0].Acts)
	}
	dt := &etable.Table{}
	sch := etable.Schema{
		{Name: "Name", Type: etensor.STRING, CellShape: nil, DimNames: nil},
		{Name: "Judge", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "Ref", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "Context", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "Label", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "Count", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "Acts", Type: etensor.FLOAT32, CellShape: []int{nh}, DimNames: nil},
	}
	dt.SetFromSchema(sch, len(recs))
	for row, r := range recs {
		dt.SetCellString("Name", row, fmt.Sprintf("c%d_j%d_r%d", r.Context, r.Judge, r.Ref))
		dt.SetCellFloat("Judge", row, float64(r.Judge))
		dt.SetCellFloat("Ref", row, float64(r.Ref))
		dt.SetCellFloat("Context", row, float64(r.Context))
		dt.SetCellFloat("Label", row, r.Label)
		dt.SetCellFloat("Count", row, float64(r.Count))
		acts := etensor.NewFloat32([]int{nh}, nil, nil)
		copy(acts.Values, r.Acts)
		dt.SetCellTensor("Acts", row, acts)
	}
	return dt
}

// RDM computes the representational dissimilarity matrix over the mean
// activations, using correlation distance.
func RDM(dt *etable.Table) (*simat.SimMat, error) {
	sm := &simat.SimMat{}
	ix := etable.NewIdxView(dt)
	err := sm.TableCol(ix, "Acts", "Name", false, metric.Correlation64)
	if err != nil {
		return nil, err
	}
	return sm, nil
}
