// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package magnet

// SGD is stochastic gradient descent with classical momentum and L2 weight
// decay: g' = g + wd*w; v = mu*v + g'; w -= lr*v.
type SGD struct {
	Lr       float32 `desc:"learning rate"`
	Momentum float32 `desc:"momentum coefficient"`
	WtDecay  float32 `desc:"L2 weight decay"`
	layers   []*Linear
	velW     [][]float32
	velB     [][]float32
}

// NewSGD makes an optimizer over the given layers.
func NewSGD(layers []*Linear, lr, momentum, wtDecay float32) *SGD {
	op := &SGD{Lr: lr, Momentum: momentum, WtDecay: wtDecay, layers: layers}
	op.velW = make([][]float32, len(layers))
	op.velB = make([][]float32, len(layers))
	for i, l := range layers {
		op.velW[i] = make([]float32, len(l.W))
		op.velB[i] = make([]float32, len(l.B))
	}
	return op
}

// Step applies one update from the accumulated gradients.
func (op *SGD) Step() {
	for i, l := range op.layers {
		vw, vb := op.velW[i], op.velB[i]
		for j, g := range l.GW {
			g += op.WtDecay * l.W[j]
			vw[j] = op.Momentum*vw[j] + g
			l.W[j] -= op.Lr * vw[j]
		}
		for j, g := range l.GB {
			g += op.WtDecay * l.B[j]
			vb[j] = op.Momentum*vb[j] + g
			l.B[j] -= op.Lr * vb[j]
		}
	}
}

// ZeroGrad clears the gradients on all layers.
func (op *SGD) ZeroGrad() {
	for _, l := range op.layers {
		l.ZeroGrad()
	}
}
