// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package magnet

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"
)

// seqLoss runs a forward pass over the inputs and returns the summed BCE
// loss against the labels (NaN labels unscored), for gradient checking.
func seqLoss(nt *OneStepNet, ins [][]float32, labels []float64) float64 {
	h := make([]float32, nt.RecSize)
	loss := 0.0
	for i, x := range ins {
		var out float32
		out, h = nt.Step(x, h, nil)
		if !math.IsNaN(labels[i]) {
			loss += bceLoss(out, labels[i])
		}
	}
	return loss
}

func TestBPTTGradients(t *testing.T) {
	rand.Seed(10)
	nt := NewOneStepNet(4, 5, 6)
	ins := make([][]float32, 3)
	labels := []float64{math.NaN(), 1, 0}
	for i := range ins {
		x := make([]float32, 4)
		for j := range x {
			x[j] = rand.Float32()
		}
		ins[i] = x
	}

	// analytic gradients
	for _, l := range nt.Layers() {
		l.ZeroGrad()
	}
	tp := &Tape{}
	h := make([]float32, nt.RecSize)
	for i, x := range ins {
		var out float32
		out, h = nt.Step(x, h, tp)
		if !math.IsNaN(labels[i]) {
			tp.Steps[i].DOut = out - float32(labels[i])
		}
	}
	nt.Backward(tp)

	// compare against central finite differences on a sample of weights
	const eps = 1e-3
	for li, l := range nt.Layers() {
		for wi := 0; wi < len(l.W); wi += 7 {
			orig := l.W[wi]
			l.W[wi] = orig + eps
			lp := seqLoss(nt, ins, labels)
			l.W[wi] = orig - eps
			lm := seqLoss(nt, ins, labels)
			l.W[wi] = orig
			num := (lp - lm) / (2 * eps)
			ana := float64(l.GW[wi])
			if math.Abs(num-ana) > 1e-2*(1+math.Abs(num)) {
				t.Errorf("layer %d weight %d: analytic grad %g, numeric %g", li, wi, ana, num)
			}
		}
	}
}

func TestOneStepNetDeterministic(t *testing.T) {
	rand.Seed(11)
	nt := NewOneStepNet(4, 5, 6)
	x := []float32{1, 0, 0, 1}
	h := make([]float32, 5)
	o1, h1 := nt.Step(x, h, nil)
	o2, h2 := nt.Step(x, h, nil)
	if o1 != o2 {
		t.Errorf("outputs differ for identical input and state: %g vs %g", o1, o2)
	}
	for i := range h1 {
		if h1[i] != h2[i] {
			t.Errorf("state %d differs for identical input and state", i)
		}
	}
	rec, hid, out := nt.Activations(x, h)
	if out != o1 {
		t.Errorf("Activations output %g != Step output %g", out, o1)
	}
	if len(rec) != 5 || len(hid) != 6 {
		t.Errorf("activation sizes %d, %d", len(rec), len(hid))
	}
}

func TestSGDMomentum(t *testing.T) {
	l := &Linear{In: 1, Out: 1, W: []float32{1}, B: []float32{0}, GW: []float32{2}, GB: []float32{0}}
	op := NewSGD([]*Linear{l}, 0.1, 0.9, 0)
	op.Step() // v = 2, w = 1 - 0.2
	if got := l.W[0]; math.Abs(float64(got)-0.8) > 1e-6 {
		t.Errorf("after first step w = %g, want 0.8", got)
	}
	op.Step() // v = 0.9*2 + 2 = 3.8, w = 0.8 - 0.38
	if got := l.W[0]; math.Abs(float64(got)-0.42) > 1e-6 {
		t.Errorf("after second step w = %g, want 0.42", got)
	}
}

func TestSGDWeightDecay(t *testing.T) {
	l := &Linear{In: 1, Out: 1, W: []float32{2}, B: []float32{0}, GW: []float32{0}, GB: []float32{0}}
	op := NewSGD([]*Linear{l}, 0.1, 0, 0.5)
	op.Step() // g = 0 + 0.5*2 = 1, w = 2 - 0.1
	if got := l.W[0]; math.Abs(float64(got)-1.9) > 1e-6 {
		t.Errorf("after decay step w = %g, want 1.9", got)
	}
}

func TestModelSaveOpen(t *testing.T) {
	rand.Seed(12)
	nt := NewOneStepNet(11, 7, 9)
	path := filepath.Join(t.TempDir(), "model.json.gz")
	if err := SaveModel(nt, path); err != nil {
		t.Fatal(err)
	}
	ld, err := OpenModel(path)
	if err != nil {
		t.Fatal(err)
	}
	rn, ok := ld.(*OneStepNet)
	if !ok {
		t.Fatalf("loaded model has type %T", ld)
	}
	if rn.RecSize != 7 || rn.HidSize != 9 || rn.InSize != 11 {
		t.Fatalf("loaded sizes %d, %d, %d", rn.InSize, rn.RecSize, rn.HidSize)
	}
	x := []float32{0, 1, 0, 0, 0, 0, 0, 0, 1, 0, 1}
	h := make([]float32, 7)
	o1, _ := nt.Step(x, h, nil)
	o2, _ := ld.Step(x, h, nil)
	if o1 != o2 {
		t.Errorf("loaded model output %g != original %g", o2, o1)
	}
}

func TestMLPNet(t *testing.T) {
	rand.Seed(13)
	nt := NewMLPNet(4, 6)
	x := []float32{1, 0, 1, 0}
	h := make([]float32, 1)
	o1, _ := nt.Step(x, h, nil)
	o2, _ := nt.Step(x, h, nil)
	if o1 != o2 {
		t.Errorf("MLP outputs differ for identical input: %g vs %g", o1, o2)
	}
	if o1 <= 0 || o1 >= 1 {
		t.Errorf("sigmoid output %g out of range", o1)
	}
}
