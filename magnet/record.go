// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package magnet

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"

	"github.com/CPF2002/Knowledge-Assembly-RNN/magenv"
)

// TrainingRecord is the JSON artifact summarizing one training run: the
// configuration it ran under and the per-epoch accuracy series, with the
// baseline (untrained) evaluation at index 0.
type TrainingRecord struct {
	Cfg       magenv.Config `json:"config"`
	TrainPerf []float64     `json:"trainingPerformance"`
	TestPerf  []float64     `json:"testPerformance"`
}

// Save writes the record as JSON.
func (tr *TrainingRecord) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tr)
}

// OpenTrainingRecord loads a record previously written with Save.
func OpenTrainingRecord(path string) (*TrainingRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tr := &TrainingRecord{}
	if err := json.NewDecoder(f).Decode(tr); err != nil {
		return nil, fmt.Errorf("magnet: decoding record %s: %w", path, err)
	}
	return tr, nil
}

type layerDTO struct {
	In  int       `json:"in"`
	Out int       `json:"out"`
	W   []float32 `json:"w"`
	B   []float32 `json:"b"`
}

type modelDTO struct {
	Kind    string     `json:"kind"` // "RNN" or "MLP"
	InSize  int        `json:"inSize"`
	RecSize int        `json:"recSize,omitempty"`
	HidSize int        `json:"hidSize"`
	Layers  []layerDTO `json:"layers"`
}

func layerToDTO(l *Linear) layerDTO {
	return layerDTO{In: l.In, Out: l.Out, W: l.W, B: l.B}
}

func layerFromDTO(d layerDTO, l *Linear) error {
	if d.In != l.In || d.Out != l.Out {
		return fmt.Errorf("magnet: layer size mismatch: saved %dx%d, model %dx%d", d.Out, d.In, l.Out, l.In)
	}
	copy(l.W, d.W)
	copy(l.B, d.B)
	return nil
}

// SaveModel writes the network weights as one gzipped JSON artifact, so a
// short-curriculum model can be reloaded for long-curriculum training.
func SaveModel(nt Network, path string) error {
	dto := modelDTO{InSize: nt.InputSize(), HidSize: nt.HiddenSize()}
	switch n := nt.(type) {
	case *OneStepNet:
		dto.Kind = "RNN"
		dto.RecSize = n.RecSize
	case *MLPNet:
		dto.Kind = "MLP"
	default:
		return fmt.Errorf("magnet: cannot save network of type %T", nt)
	}
	for _, l := range nt.Layers() {
		dto.Layers = append(dto.Layers, layerToDTO(l))
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(&dto); err != nil {
		gz.Close()
		return fmt.Errorf("magnet: encoding model %s: %w", path, err)
	}
	return gz.Close()
}

// OpenModel loads a network previously written with SaveModel.
func OpenModel(path string) (Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("magnet: opening model %s: %w", path, err)
	}
	defer gz.Close()
	var dto modelDTO
	if err := json.NewDecoder(gz).Decode(&dto); err != nil {
		return nil, fmt.Errorf("magnet: decoding model %s: %w", path, err)
	}
	var nt Network
	switch dto.Kind {
	case "RNN":
		nt = NewOneStepNet(dto.InSize, dto.RecSize, dto.HidSize)
	case "MLP":
		nt = NewMLPNet(dto.InSize, dto.HidSize)
	default:
		return nil, fmt.Errorf("magnet: unknown model kind %q in %s", dto.Kind, path)
	}
	lays := nt.Layers()
	if len(dto.Layers) != len(lays) {
		return nil, fmt.Errorf("magnet: model %s has %d layers, want %d", path, len(dto.Layers), len(lays))
	}
	for i, ld := range dto.Layers {
		if err := layerFromDTO(ld, lays[i]); err != nil {
			return nil, err
		}
	}
	return nt, nil
}
