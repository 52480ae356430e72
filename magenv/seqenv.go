// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package magenv

import (
	"fmt"

	"github.com/emer/emergent/env"
	"github.com/emer/etable/etensor"
)

// SeqEnv presents the sequences of a dataset split one at a time as an
// environment. Each Step advances to the next sequence; an epoch is one
// pass over all sequences in the split.
type SeqEnv struct {
	Nm    string  `desc:"name of this environment"`
	Dsc   string  `desc:"description of this environment"`
	Split *Split  `desc:"dataset split being presented"`
	Run   env.Ctr `view:"inline" desc:"current run of model as provided during Init"`
	Epoch env.Ctr `view:"inline" desc:"number of passes over the split"`
	Seq   env.Ctr `view:"inline" desc:"current sequence within the split"`
}

func (ev *SeqEnv) Name() string { return ev.Nm }
func (ev *SeqEnv) Desc() string { return ev.Dsc }

func (ev *SeqEnv) Validate() error {
	if ev.Split == nil {
		return fmt.Errorf("SeqEnv: %s has no dataset split set", ev.Nm)
	}
	return nil
}

func (ev *SeqEnv) Init(run int) {
	ev.Run.Scale = env.Run
	ev.Epoch.Scale = env.Epoch
	ev.Seq.Scale = env.Sequence
	ev.Run.Init()
	ev.Epoch.Init()
	ev.Seq.Init()
	ev.Run.Cur = run
	ev.Seq.Max = ev.Split.NumSeqs()
	ev.Seq.Cur = -1 // init state -- key so that first Step() = 0
}

func (ev *SeqEnv) Step() bool {
	ev.Epoch.Same()
	if ev.Seq.Incr() {
		ev.Epoch.Incr()
	}
	return true
}

func (ev *SeqEnv) States() env.Elements {
	sl := ev.Split.SeqLen()
	els := env.Elements{
		{Name: "Input", Shape: []int{sl, TotalMaxNum}, DimNames: []string{"Trial", "Num"}},
		{Name: "ContextInput", Shape: []int{sl, NContexts}, DimNames: []string{"Trial", "Ctx"}},
		{Name: "TrialType", Shape: []int{sl}, DimNames: []string{"Trial"}},
		{Name: "Label", Shape: []int{sl}, DimNames: []string{"Trial"}},
	}
	return els
}

func (ev *SeqEnv) State(element string) etensor.Tensor {
	row := ev.Seq.Cur
	if row < 0 {
		row = 0
	}
	switch element {
	case "Input":
		return ev.Split.Input.SubSpace([]int{row})
	case "ContextInput":
		return ev.Split.ContextInput.SubSpace([]int{row})
	case "TrialType":
		return ev.Split.TrialType.SubSpace([]int{row})
	case "Label":
		return ev.Split.Label.SubSpace([]int{row})
	}
	return nil
}

func (ev *SeqEnv) Counters() []env.TimeScales {
	return []env.TimeScales{env.Run, env.Epoch, env.Sequence}
}

func (ev *SeqEnv) Counter(scale env.TimeScales) (cur, prv int, chg bool) {
	switch scale {
	case env.Run:
		return ev.Run.Query()
	case env.Epoch:
		return ev.Epoch.Query()
	case env.Sequence:
		return ev.Seq.Query()
	}
	return -1, -1, false
}

func (ev *SeqEnv) Actions() env.Elements {
	return nil
}

func (ev *SeqEnv) Action(element string, input etensor.Tensor) {
	// no actions -- passive sequence presentation
}

// Compile-time check that SeqEnv implements the full environment interface.
var _ env.Env = (*SeqEnv)(nil)
