// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package magnet

import (
	"fmt"

	"github.com/CPF2002/Knowledge-Assembly-RNN/magenv"
)

// Artifact names are derived from the hyperparameters so that runs under
// different conditions never collide, and a rerun under the same condition
// finds its existing dataset and model.

func netTxt(cf *magenv.Config) string {
	if cf.Recurrent {
		return "RNN"
	}
	return "MLP"
}

func curriculumTxt(cf *magenv.Config) string {
	if cf.TrainLong {
		return "_trainlong"
	}
	return "_trainshort"
}

func contextTxt(cf *magenv.Config) string {
	switch cf.WhichContext {
	case 1:
		return fmt.Sprintf("_lowrange_%d-%d_only", magenv.LowRangeMin, magenv.LowRangeMax)
	case 2:
		return fmt.Sprintf("_highrange_%d-%d_only", magenv.HighRangeMin, magenv.HighRangeMax)
	}
	return ""
}

func rangeTxt(cf *magenv.Config) string {
	if cf.Interleave {
		return "_numrangeintermingled"
	}
	return "_numrangeblocked"
}

func stateTxt(cf *magenv.Config) string {
	if cf.RetainState {
		return "_retainstate"
	}
	return "_resetstate"
}

func decoderTxt(cf *magenv.Config) string {
	if cf.RetrainDecoder {
		return "_retraineddecoder"
	}
	return ""
}

func hyperTxt(cf *magenv.Config) string {
	return fmt.Sprintf("_bs%d_lr%g_ep%d_r%d_h%d_sl%d_trlf%g_id%d",
		cf.BatchSize, cf.Lr, cf.Epochs, cf.RecurrentSize, cf.HiddenSize, cf.SeqLen, cf.TrainLesionFreq, cf.ModelID)
}

// DatasetName is the file name (no extension) for the dataset generated
// under this configuration.
func DatasetName(cf *magenv.Config) string {
	return fmt.Sprintf("dataset%s%s_%scontextlabel%s_sl%d_id%d",
		curriculumTxt(cf), contextTxt(cf), cf.LabelContext, rangeTxt(cf), cf.SeqLen, cf.ModelID)
}

// ModelName is the file name (no extension) for the trained model artifact.
func ModelName(cf *magenv.Config) string {
	return fmt.Sprintf("%s_trainedmodel%s%s_%scontextlabel%s%s_n%g%s%s",
		netTxt(cf), curriculumTxt(cf), contextTxt(cf), cf.LabelContext, rangeTxt(cf), stateTxt(cf),
		cf.NoiseStd, hyperTxt(cf), decoderTxt(cf))
}

// RecordName is the file name (no extension) for the training record.
func RecordName(cf *magenv.Config) string {
	return fmt.Sprintf("trainingrecord_%s%s%s_%scontextlabel%s%s_n%g%s%s",
		netTxt(cf), curriculumTxt(cf), contextTxt(cf), cf.LabelContext, rangeTxt(cf), stateTxt(cf),
		cf.NoiseStd, hyperTxt(cf), decoderTxt(cf))
}

// AnalysisName is the file name (no extension) for activation analysis
// output (activation table and RDM).
func AnalysisName(cf *magenv.Config) string {
	return fmt.Sprintf("analysis_%s%s%s_%scontextlabel%s%s_n%g%s%s",
		netTxt(cf), curriculumTxt(cf), contextTxt(cf), cf.LabelContext, rangeTxt(cf), stateTxt(cf),
		cf.NoiseStd, hyperTxt(cf), decoderTxt(cf))
}
