// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"testing"
)

// tinySim builds a Sim over a small all-compare configuration, writing
// dataset and outputs under temporary directories.
func tinySim(t *testing.T) *Sim {
	t.Helper()
	ss := &Sim{}
	ss.New()
	ss.Cfg.IncludeFillers = false
	ss.Cfg.SeqLen = 12
	ss.Cfg.NTrain = 24
	ss.Cfg.NTest = 12
	ss.Cfg.MBlocks = 12
	ss.Cfg.RecurrentSize = 24
	ss.Cfg.HiddenSize = 24
	ss.Cfg.Lr = 0.01
	ss.DataDir = t.TempDir()
	ss.OutDir = t.TempDir()
	if err := ss.Config(); err != nil {
		t.Fatal(err)
	}
	ss.Init()
	return ss
}

func TestTrainRecordsPerformance(t *testing.T) {
	ss := tinySim(t)
	ss.Criterion = 0 // any accuracy meets it, so one epoch runs
	if err := ss.Train(); err != nil {
		t.Fatal(err)
	}
	if len(ss.Record.TrainPerf) != 2 || len(ss.Record.TestPerf) != 2 {
		t.Fatalf("recorded %d train and %d test entries, want 2 and 2",
			len(ss.Record.TrainPerf), len(ss.Record.TestPerf))
	}
	if ss.TrnEpcLog.Rows != 1 || ss.TstEpcLog.Rows != 1 {
		t.Fatalf("logged %d train and %d test epochs, want 1 and 1",
			ss.TrnEpcLog.Rows, ss.TstEpcLog.Rows)
	}
	// the record carries the standard (during-update) training accuracy
	if got, want := ss.Record.TrainPerf[1], ss.TrnEpcLog.CellFloat("StdAcc", 0); got != want {
		t.Errorf("recorded train performance %g, logged standard accuracy %g", got, want)
	}
	if got, want := ss.Record.TestPerf[1], ss.TstEpcLog.CellFloat("Acc", 0); got != want {
		t.Errorf("recorded test performance %g, logged test accuracy %g", got, want)
	}
	for _, acc := range ss.Record.TestPerf {
		if acc < ss.TstAccRng.Min || acc > ss.TstAccRng.Max {
			t.Errorf("test accuracy %g outside tracked range %g -- %g",
				acc, ss.TstAccRng.Min, ss.TstAccRng.Max)
		}
	}
}
