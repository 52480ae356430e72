// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package magnet implements the relational magnitude network and its
simulation engine: a small one-step recurrent network (or MLP variant)
trained by backpropagation through time on magnitude comparison
sequences, with lesioned evaluation and hidden-unit activation
extraction for representational analysis.
*/
package magnet

import (
	"math/rand"

	"github.com/goki/mat32"
)

// Linear is a fully connected layer, out = W x + b, with gradients
// accumulated across a backward pass.
type Linear struct {
	In, Out int       `desc:"input and output sizes"`
	W       []float32 `desc:"weights, Out x In row-major"`
	B       []float32 `desc:"biases"`
	GW      []float32 `desc:"accumulated weight gradients"`
	GB      []float32 `desc:"accumulated bias gradients"`
}

// NewLinear makes a layer with weights and biases drawn uniformly from
// +/- 1/sqrt(In).
func NewLinear(in, out int) *Linear {
	l := &Linear{In: in, Out: out}
	l.W = make([]float32, out*in)
	l.B = make([]float32, out)
	l.GW = make([]float32, out*in)
	l.GB = make([]float32, out)
	bound := 1 / mat32.Sqrt(float32(in))
	for i := range l.W {
		l.W[i] = (2*rand.Float32() - 1) * bound
	}
	for i := range l.B {
		l.B[i] = (2*rand.Float32() - 1) * bound
	}
	return l
}

// Forward computes y = W x + b. y must have length Out.
func (l *Linear) Forward(x, y []float32) {
	for o := 0; o < l.Out; o++ {
		sum := l.B[o]
		row := l.W[o*l.In : (o+1)*l.In]
		for i, xv := range x {
			sum += row[i] * xv
		}
		y[o] = sum
	}
}

// Backward accumulates parameter gradients for the pass y = W x + b given
// dy = dL/dy, and adds dL/dx into dx when dx is non-nil.
func (l *Linear) Backward(x, dy, dx []float32) {
	for o := 0; o < l.Out; o++ {
		g := dy[o]
		if g == 0 {
			continue
		}
		l.GB[o] += g
		grow := l.GW[o*l.In : (o+1)*l.In]
		wrow := l.W[o*l.In : (o+1)*l.In]
		for i, xv := range x {
			grow[i] += g * xv
			if dx != nil {
				dx[i] += wrow[i] * g
			}
		}
	}
}

// ZeroGrad clears the accumulated gradients.
func (l *Linear) ZeroGrad() {
	for i := range l.GW {
		l.GW[i] = 0
	}
	for i := range l.GB {
		l.GB[i] = 0
	}
}

// TapeStep records one step of a forward pass for the backward pass.
type TapeStep struct {
	X    []float32 `desc:"input vector presented this step"`
	H    []float32 `desc:"recurrent state entering this step"`
	Rec  []float32 `desc:"recurrent layer activity (the new state)"`
	Hid  []float32 `desc:"hidden layer activity"`
	Out  float32   `desc:"sigmoid output"`
	DOut float32   `desc:"dL/d(pre-sigmoid output), set by the trainer on scored trials"`
}

// Tape records a sequence forward pass.
type Tape struct {
	Steps []TapeStep
}

// Reset clears the tape for reuse.
func (tp *Tape) Reset() {
	tp.Steps = tp.Steps[:0]
}

// Network is the capability interface shared by the recurrent and MLP
// network variants.
type Network interface {
	// Step runs one input through the network from recurrent state h,
	// returning the output and the new state. When tp is non-nil the step is
	// recorded for a later Backward.
	Step(x, h []float32, tp *Tape) (out float32, newH []float32)

	// Activations runs one input and returns the recurrent and hidden layer
	// activities along with the output, without recording.
	Activations(x, h []float32) (rec, hid []float32, out float32)

	// Backward backpropagates through the recorded steps of the tape,
	// accumulating parameter gradients. DOut must be set on scored steps.
	Backward(tp *Tape)

	// Layers returns the trainable layers for the optimizer.
	Layers() []*Linear

	InputSize() int
	RecurrentSize() int
	HiddenSize() int
}

// OneStepNet is the one-step recurrent network: a ReLU recurrent layer and a
// ReLU hidden layer both fed by the concatenated input and prior state, and
// a sigmoid scalar readout from the hidden layer.
type OneStepNet struct {
	InSize  int     `desc:"input vector size"`
	RecSize int     `desc:"recurrent layer size"`
	HidSize int     `desc:"hidden layer size"`
	In2Rec  *Linear `desc:"input+state to recurrent layer"`
	In2Hid  *Linear `desc:"input+state to hidden layer"`
	Hid2Out *Linear `desc:"hidden layer to output"`
}

// NewOneStepNet makes a recurrent network with the given layer sizes.
func NewOneStepNet(inSize, recSize, hidSize int) *OneStepNet {
	nt := &OneStepNet{InSize: inSize, RecSize: recSize, HidSize: hidSize}
	nt.In2Rec = NewLinear(inSize+recSize, recSize)
	nt.In2Hid = NewLinear(inSize+recSize, hidSize)
	nt.Hid2Out = NewLinear(hidSize, 1)
	return nt
}

func (nt *OneStepNet) InputSize() int     { return nt.InSize }
func (nt *OneStepNet) RecurrentSize() int { return nt.RecSize }
func (nt *OneStepNet) HiddenSize() int    { return nt.HidSize }

func (nt *OneStepNet) Layers() []*Linear {
	return []*Linear{nt.In2Rec, nt.In2Hid, nt.Hid2Out}
}

func (nt *OneStepNet) forward(x, h []float32) (rec, hid []float32, out float32) {
	comb := make([]float32, nt.InSize+nt.RecSize)
	copy(comb, x)
	copy(comb[nt.InSize:], h)
	rec = make([]float32, nt.RecSize)
	hid = make([]float32, nt.HidSize)
	nt.In2Rec.Forward(comb, rec)
	relu(rec)
	nt.In2Hid.Forward(comb, hid)
	relu(hid)
	outv := make([]float32, 1)
	nt.Hid2Out.Forward(hid, outv)
	out = sigmoid(outv[0])
	return
}

func (nt *OneStepNet) Step(x, h []float32, tp *Tape) (float32, []float32) {
	rec, hid, out := nt.forward(x, h)
	if tp != nil {
		xc := make([]float32, len(x))
		copy(xc, x)
		hc := make([]float32, len(h))
		copy(hc, h)
		tp.Steps = append(tp.Steps, TapeStep{X: xc, H: hc, Rec: rec, Hid: hid, Out: out})
	}
	return out, rec
}

func (nt *OneStepNet) Activations(x, h []float32) ([]float32, []float32, float32) {
	rec, hid, out := nt.forward(x, h)
	return rec, hid, out
}

// Backward backpropagates through time over the recorded sequence. The
// sigmoid output paired with cross-entropy loss gives dL/d(pre-sigmoid) =
// out - label, which the trainer stores in DOut.
func (nt *OneStepNet) Backward(tp *Tape) {
	dh := make([]float32, nt.RecSize) // gradient flowing into the state output of step t
	comb := make([]float32, nt.InSize+nt.RecSize)
	dcomb := make([]float32, nt.InSize+nt.RecSize)
	dhid := make([]float32, nt.HidSize)
	drec := make([]float32, nt.RecSize)
	for t := len(tp.Steps) - 1; t >= 0; t-- {
		st := &tp.Steps[t]
		copy(comb, st.X)
		copy(comb[nt.InSize:], st.H)
		for i := range dcomb {
			dcomb[i] = 0
		}
		if st.DOut != 0 {
			for i := range dhid {
				dhid[i] = 0
			}
			nt.Hid2Out.Backward(st.Hid, []float32{st.DOut}, dhid)
			reluGrad(dhid, st.Hid)
			nt.In2Hid.Backward(comb, dhid, dcomb)
		}
		copy(drec, dh)
		reluGrad(drec, st.Rec)
		nt.In2Rec.Backward(comb, drec, dcomb)
		copy(dh, dcomb[nt.InSize:])
	}
}

func relu(v []float32) {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}

// reluGrad zeroes gradient entries where the forward activation was clamped.
func reluGrad(dv, act []float32) {
	for i := range dv {
		if act[i] <= 0 {
			dv[i] = 0
		}
	}
}

func sigmoid(x float32) float32 {
	return 1 / (1 + mat32.Exp(-x))
}
