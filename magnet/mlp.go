// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package magnet

// MLPNet is the feedforward variant: the same input vector drives a ReLU
// hidden layer and a sigmoid scalar readout, with no state carried between
// trials. It satisfies the same interface as the recurrent network so the
// engine can run either; the recurrent state it reports is a dummy zero
// vector.
type MLPNet struct {
	InSize  int     `desc:"input vector size"`
	HidSize int     `desc:"hidden layer size"`
	In2Hid  *Linear `desc:"input to hidden layer"`
	Hid2Out *Linear `desc:"hidden layer to output"`
	zeroH   []float32
}

// NewMLPNet makes a feedforward network with the given sizes.
func NewMLPNet(inSize, hidSize int) *MLPNet {
	nt := &MLPNet{InSize: inSize, HidSize: hidSize}
	nt.In2Hid = NewLinear(inSize, hidSize)
	nt.Hid2Out = NewLinear(hidSize, 1)
	nt.zeroH = make([]float32, 1)
	return nt
}

func (nt *MLPNet) InputSize() int     { return nt.InSize }
func (nt *MLPNet) RecurrentSize() int { return 1 }
func (nt *MLPNet) HiddenSize() int    { return nt.HidSize }

func (nt *MLPNet) Layers() []*Linear {
	return []*Linear{nt.In2Hid, nt.Hid2Out}
}

func (nt *MLPNet) forward(x []float32) (hid []float32, out float32) {
	hid = make([]float32, nt.HidSize)
	nt.In2Hid.Forward(x, hid)
	relu(hid)
	outv := make([]float32, 1)
	nt.Hid2Out.Forward(hid, outv)
	return hid, sigmoid(outv[0])
}

func (nt *MLPNet) Step(x, h []float32, tp *Tape) (float32, []float32) {
	hid, out := nt.forward(x)
	if tp != nil {
		xc := make([]float32, len(x))
		copy(xc, x)
		tp.Steps = append(tp.Steps, TapeStep{X: xc, Hid: hid, Out: out})
	}
	return out, nt.zeroH
}

func (nt *MLPNet) Activations(x, h []float32) ([]float32, []float32, float32) {
	hid, out := nt.forward(x)
	return nt.zeroH, hid, out
}

// Backward backpropagates each scored step independently -- there is no
// state threading the steps together.
func (nt *MLPNet) Backward(tp *Tape) {
	dhid := make([]float32, nt.HidSize)
	for t := range tp.Steps {
		st := &tp.Steps[t]
		if st.DOut == 0 {
			continue
		}
		for i := range dhid {
			dhid[i] = 0
		}
		nt.Hid2Out.Backward(st.Hid, []float32{st.DOut}, dhid)
		reluGrad(dhid, st.Hid)
		nt.In2Hid.Backward(st.X, dhid, nil)
	}
}
