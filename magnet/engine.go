// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package magnet

import (
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"

	"github.com/CPF2002/Knowledge-Assembly-RNN/magenv"
	"github.com/emer/emergent/erand"
)

// Engine runs a network over dataset sequences: training epochs with
// backpropagation through time, evaluation epochs, and lesioned evaluation.
// The recurrent state is carried across sequences within an epoch when the
// configuration retains it, snapshotted at the second-to-last step of each
// sequence.
type Engine struct {
	Cfg *magenv.Config `desc:"read-only run configuration"`
	Net Network        `desc:"network being trained or evaluated"`
	Opt *SGD           `desc:"optimizer, required for training"`
}

// NewEngine makes an engine over the given network, with an optimizer built
// from the configuration's learning parameters.
func NewEngine(cf *magenv.Config, nt Network) *Engine {
	return &Engine{Cfg: cf, Net: nt, Opt: NewSGD(nt.Layers(), cf.Lr, cf.Momentum, cf.WtDecay)}
}

// seqInputs assembles the per-trial input vectors for one sequence: the
// one-hot stimulus, the context label (zeroed on filler trials), and the
// trial-type bit. lesion marks trials whose number input is zeroed.
func (en *Engine) seqInputs(sp *magenv.Split, seq int, lesion []bool) [][]float32 {
	sl := sp.SeqLen()
	ins := make([][]float32, sl)
	for i := 0; i < sl; i++ {
		ti := seq*sl + i
		x := make([]float32, magenv.TotalMaxNum+magenv.NContexts+magenv.NTypeBits)
		if lesion == nil || !lesion[i] {
			copy(x, sp.Input.Values[ti*magenv.TotalMaxNum:(ti+1)*magenv.TotalMaxNum])
		}
		if sp.TrialType.Values[ti] == int(magenv.Compare) {
			copy(x[magenv.TotalMaxNum:], sp.ContextInput.Values[ti*magenv.NContexts:(ti+1)*magenv.NContexts])
			x[magenv.TotalMaxNum+magenv.NContexts] = 1
		}
		ins[i] = x
	}
	return ins
}

// trainLesions builds the lesion record for one training sequence: in
// decoder-retraining mode the number input is lesioned on alternating
// trials' compares; otherwise each compare trial is lesioned with the
// configured frequency.
func (en *Engine) trainLesions(sp *magenv.Split, seq int) []bool {
	cf := en.Cfg
	if !cf.RetrainDecoder && cf.TrainLesionFreq <= 0 {
		return nil
	}
	sl := sp.SeqLen()
	les := make([]bool, sl)
	alternate := true
	for i := 0; i < sl; i++ {
		if sp.TrialType.Values[seq*sl+i] == int(magenv.Compare) {
			if cf.RetrainDecoder {
				les[i] = alternate
			} else {
				les[i] = erand.BoolProb(float64(cf.TrainLesionFreq), -1)
			}
		}
		alternate = !alternate
	}
	return les
}

// addNoise injects iid gaussian noise into the recurrent state.
func (en *Engine) addNoise(h []float32) {
	if en.Cfg.NoiseStd <= 0 {
		return
	}
	sd := float64(en.Cfg.NoiseStd)
	for i := range h {
		h[i] += float32(rand.NormFloat64() * sd)
	}
}

// bceLoss is binary cross-entropy for a sigmoid output.
func bceLoss(out float32, label float64) float64 {
	p := math.Min(math.Max(float64(out), 1e-7), 1-1e-7)
	if label == 1 {
		return -math.Log(p)
	}
	return -math.Log(1 - p)
}

// scored reports whether trial i of seq contributes to loss and accuracy:
// a compare trial with a defined label.
func scored(sp *magenv.Split, seq, i int) (float64, bool) {
	ti := seq*sp.SeqLen() + i
	if sp.TrialType.Values[ti] != int(magenv.Compare) {
		return 0, false
	}
	lb := sp.Label.Values[ti]
	if math.IsNaN(lb) {
		return 0, false
	}
	return lb, true
}

func guess(out float32) float64 {
	if out > 0.5 {
		return 1
	}
	return 0
}

// TrainEpoch trains one pass over the split, one gradient step per batch of
// sequences, and returns the mean loss and percent accuracy over the scored
// trials as the network changes.
func (en *Engine) TrainEpoch(sp *magenv.Split) (loss, acc float64, err error) {
	if en.Opt == nil {
		return 0, 0, fmt.Errorf("magnet: engine has no optimizer")
	}
	cf := en.Cfg
	bs := cf.BatchSize
	if bs < 1 {
		bs = 1
	}
	rsz := en.Net.RecurrentSize()
	latent := make([]float32, rsz)
	hidden := make([]float32, rsz)
	tp := &Tape{}
	correct := 0
	count := 0
	for seq := 0; seq < sp.NumSeqs(); seq++ {
		ins := en.seqInputs(sp, seq, en.trainLesions(sp, seq))
		if cf.RetainState {
			copy(hidden, latent)
		} else {
			zero(hidden)
		}
		tp.Reset()
		if seq%bs == 0 {
			en.Opt.ZeroGrad()
		}
		for i, x := range ins {
			en.addNoise(hidden)
			var out float32
			out, hidden = en.Net.Step(x, hidden, tp)
			if i == len(ins)-2 {
				copy(latent, hidden)
			}
			if lb, ok := scored(sp, seq, i); ok {
				tp.Steps[len(tp.Steps)-1].DOut = out - float32(lb)
				loss += bceLoss(out, lb)
				if guess(out) == lb {
					correct++
				}
				count++
			}
		}
		en.Net.Backward(tp)
		if seq%100 == 0 {
			en.checkGrads(seq)
		}
		if (seq+1)%bs == 0 || seq == sp.NumSeqs()-1 {
			en.Opt.Step()
		}
	}
	if count == 0 {
		return 0, 0, fmt.Errorf("magnet: no scored trials in training split")
	}
	return loss / float64(count), 100 * float64(correct) / float64(count), nil
}

// checkGrads scans the layer gradients and warns when a layer received none,
// which indicates broken gradient flow through the recurrence.
func (en *Engine) checkGrads(seq int) {
	for li, l := range en.Net.Layers() {
		var sum, max float32
		for _, g := range l.GW {
			a := g
			if a < 0 {
				a = -a
			}
			sum += a
			if a > max {
				max = a
			}
		}
		if max == 0 {
			log.Printf("warning: layer %d received no gradient at sequence %d", li, seq)
		}
	}
}

// TestEpoch evaluates the split without updating weights. When audit is
// non-nil each scored trial is appended to it as a line of judged value,
// reference, model guess, label and correctness, with a trailing accuracy
// line -- the per-trial evaluation record.
func (en *Engine) TestEpoch(sp *magenv.Split, audit io.Writer) (loss, acc float64, err error) {
	cf := en.Cfg
	rsz := en.Net.RecurrentSize()
	latent := make([]float32, rsz)
	hidden := make([]float32, rsz)
	correct := 0
	count := 0
	for seq := 0; seq < sp.NumSeqs(); seq++ {
		ins := en.seqInputs(sp, seq, nil)
		if cf.RetainState {
			copy(hidden, latent)
		} else {
			zero(hidden)
		}
		ref := 0
		for i, x := range ins {
			en.addNoise(hidden)
			var out float32
			out, hidden = en.Net.Step(x, hidden, nil)
			if i == len(ins)-2 {
				copy(latent, hidden)
			}
			lb, ok := scored(sp, seq, i)
			if !ok {
				continue
			}
			loss += bceLoss(out, lb)
			gs := guess(out)
			cor := 0
			if gs == lb {
				cor = 1
				correct++
			}
			count++
			if audit != nil {
				tr := sp.Trial(seq, i)
				fmt.Fprintf(audit, "judge: %d\tref: %d\tguess: %g\tlabel: %g\tcorrect: %d\n", tr.Stim, ref, gs, lb, cor)
				if cor == 0 {
					fmt.Fprintf(audit, "Misclassified\n")
				}
				ref = tr.Stim
			}
		}
	}
	if count == 0 {
		return 0, 0, fmt.Errorf("magnet: no scored trials in test split")
	}
	acc = 100 * float64(correct) / float64(count)
	if audit != nil {
		fmt.Fprintf(audit, "Accuracy: %g\n", acc)
	}
	return loss / float64(count), acc, nil
}

func zero(v []float32) {
	for i := range v {
		v[i] = 0
	}
}
