// Copyright (c) 2024, The Knowledge Assembly Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// magnitude trains and analyzes recurrent networks on the contextual
// magnitude comparison task: judging whether each compared number is higher
// or lower than the one before it, under context ranges that share their
// middle numbers. It generates (or reloads) the dataset, trains to
// criterion on the short-sequence curriculum or for a fixed budget on the
// long one, then runs the lesion tests and extracts mean hidden activations
// for representational similarity analysis.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/CPF2002/Knowledge-Assembly-RNN/magenv"
	"github.com/CPF2002/Knowledge-Assembly-RNN/magnet"
	"github.com/emer/empi/mpi"
	"github.com/emer/etable/clust"
	"github.com/emer/etable/etable"
	"github.com/emer/etable/etensor"
	"github.com/emer/etable/minmax"
	"github.com/emer/etable/simat"
)

// LogPrec is precision for saving float values in logs
const LogPrec = 6

var TheSim Sim

func main() {
	TheSim.New()
	TheSim.CmdArgs()
}

// Sim holds all the state for one training-and-analysis run. The same Sim
// is reused across hyperparameter combinations: Config rebuilds the
// dataset, network and logs for the current configuration.
type Sim struct {
	Cfg        magenv.Config         `desc:"dataset and training configuration"`
	Dataset    *magenv.Dataset       `desc:"generated or reloaded dataset"`
	Net        magnet.Network        `desc:"network being trained"`
	Engine     *magnet.Engine        `desc:"training and evaluation engine"`
	TrainEnv   magenv.SeqEnv         `desc:"training sequence environment, keeps run and epoch counters"`
	TestEnv    magenv.SeqEnv         `desc:"testing sequence environment"`
	Record     magnet.TrainingRecord `desc:"per-epoch performance record saved as JSON"`
	TstAccRng  minmax.F64            `desc:"range of test accuracy over training epochs"`
	TrnEpcLog  *etable.Table         `desc:"training epoch log"`
	TstEpcLog  *etable.Table         `desc:"testing epoch log"`
	RndSeed    int64                 `desc:"random seed"`
	Tag        string                `desc:"extra tag to add to file names saved from this run"`
	DataDir    string                `desc:"directory for dataset files"`
	OutDir     string                `desc:"directory for models, records, logs and analyses"`
	Criterion  float64               `desc:"percent training accuracy that ends short-curriculum training"`
	MaxEpcs    int                   `desc:"epoch cap for short-curriculum training"`
	TrnEpcFile *os.File              `view:"-" desc:"log file"`
	TstEpcFile *os.File              `view:"-" desc:"log file"`
}

func (ss *Sim) New() {
	ss.Cfg.Defaults()
	ss.RndSeed = 1
	ss.DataDir = "data"
	ss.OutDir = "output"
	ss.Criterion = 90
	ss.MaxEpcs = 200
	ss.TrnEpcLog = &etable.Table{}
	ss.TstEpcLog = &etable.Table{}
}

// Config builds everything for the current configuration: the dataset
// (reloaded if a matching one exists on disk), the environments, the
// network and engine, and fresh logs.
func (ss *Sim) Config() error {
	if err := ss.Cfg.Validate(); err != nil {
		return err
	}
	if err := ss.ConfigDataset(); err != nil {
		return err
	}
	ss.ConfigEnvs()
	if err := ss.ConfigNet(); err != nil {
		return err
	}
	ss.Engine = magnet.NewEngine(&ss.Cfg, ss.Net)
	ss.Record = magnet.TrainingRecord{Cfg: ss.Cfg}
	ss.ConfigTrnEpcLog(ss.TrnEpcLog)
	ss.ConfigTstEpcLog(ss.TstEpcLog)
	return nil
}

// ConfigDataset reloads the dataset whose name matches the current
// configuration, generating and saving it when there is none.
func (ss *Sim) ConfigDataset() error {
	path := filepath.Join(ss.DataDir, magnet.DatasetName(&ss.Cfg)+".json.gz")
	if _, err := os.Stat(path); err == nil {
		ds, err := magenv.OpenDataset(path)
		if err != nil {
			return err
		}
		if err := ds.Train.Validate(&ss.Cfg, false); err != nil {
			return fmt.Errorf("reloaded dataset %s: %w", path, err)
		}
		mpi.Printf("Reloaded dataset: %s\n", path)
		ss.Dataset = ds
		return nil
	}
	mpi.Printf("Generating dataset: %s\n", path)
	ds, err := magenv.NewDataset(&ss.Cfg)
	if err != nil {
		return err
	}
	if err := ds.Save(path); err != nil {
		return err
	}
	ss.Dataset = ds
	return nil
}

func (ss *Sim) ConfigEnvs() {
	ss.TrainEnv.Nm = "TrainEnv"
	ss.TrainEnv.Dsc = "training sequences"
	ss.TrainEnv.Split = ss.Dataset.Train
	ss.TestEnv.Nm = "TestEnv"
	ss.TestEnv.Dsc = "testing sequences"
	ss.TestEnv.Split = ss.Dataset.Test
	ss.TrainEnv.Init(0)
	ss.TestEnv.Init(0)
}

// ConfigNet builds the network. The long-sequence curriculum continues
// from the model trained on the short one, which must already be on disk.
func (ss *Sim) ConfigNet() error {
	if ss.Cfg.TrainLong {
		short := ss.Cfg
		short.TrainLong = false
		path := filepath.Join(ss.OutDir, magnet.ModelName(&short)+".json.gz")
		nt, err := magnet.OpenModel(path)
		if err != nil {
			return fmt.Errorf("long curriculum needs the short-trained model at %s: %w", path, err)
		}
		mpi.Printf("Reloaded short-trained model: %s\n", path)
		ss.Net = nt
		return nil
	}
	if ss.Cfg.Recurrent {
		ss.Net = magnet.NewOneStepNet(ss.Cfg.InputSize(), ss.Cfg.RecurrentSize, ss.Cfg.HiddenSize)
	} else {
		ss.Net = magnet.NewMLPNet(ss.Cfg.InputSize(), ss.Cfg.HiddenSize)
	}
	return nil
}

// Init restarts the run counters and reseeds.
func (ss *Sim) Init() {
	rand.Seed(ss.RndSeed)
	ss.TrainEnv.Init(0)
	ss.TestEnv.Init(0)
}

////////////////////////////////////////////////////////////////////////////
//  Training

// Train runs the full training loop for the active curriculum: a baseline
// evaluation of the untrained network, then epochs until the training
// accuracy criterion (short) or the epoch budget (long), logging standard
// (during-update) and fair (frozen-weights) training performance plus test
// performance every epoch.
func (ss *Sim) Train() error {
	fairLoss, fairAcc, err := ss.Engine.TestEpoch(ss.Dataset.Train, nil)
	if err != nil {
		return err
	}
	tstLoss, tstAcc, err := ss.Engine.TestEpoch(ss.Dataset.Test, nil)
	if err != nil {
		return err
	}
	ss.Record.TrainPerf = []float64{fairAcc}
	ss.Record.TestPerf = []float64{tstAcc}
	ss.TstAccRng.SetInfinity()
	ss.TstAccRng.FitValInRange(tstAcc)
	mpi.Printf("Baseline: train acc %.2f%% (loss %.4f), test acc %.2f%% (loss %.4f)\n",
		fairAcc, fairLoss, tstAcc, tstLoss)

	for {
		epc := ss.TrainEnv.Epoch.Cur
		stdLoss, stdAcc, err := ss.Engine.TrainEpoch(ss.Dataset.Train)
		if err != nil {
			return err
		}
		fairLoss, fairAcc, err = ss.Engine.TestEpoch(ss.Dataset.Train, nil)
		if err != nil {
			return err
		}
		tstLoss, tstAcc, err = ss.Engine.TestEpoch(ss.Dataset.Test, nil)
		if err != nil {
			return err
		}
		ss.Record.TrainPerf = append(ss.Record.TrainPerf, stdAcc)
		ss.Record.TestPerf = append(ss.Record.TestPerf, tstAcc)
		ss.TstAccRng.FitValInRange(tstAcc)
		ss.LogTrnEpc(ss.TrnEpcLog, epc, stdLoss, stdAcc, fairLoss, fairAcc)
		ss.LogTstEpc(ss.TstEpcLog, epc, tstLoss, tstAcc)
		mpi.Printf("Epoch %d: std acc %.2f%%, fair acc %.2f%%, test acc %.2f%%\n",
			epc, stdAcc, fairAcc, tstAcc)
		ss.TrainEnv.Epoch.Incr()

		if ss.Cfg.TrainLong {
			if ss.TrainEnv.Epoch.Cur >= ss.Cfg.Epochs {
				break
			}
			continue
		}
		if stdAcc >= ss.Criterion {
			mpi.Printf("Reached %.0f%% training accuracy criterion at epoch %d\n", ss.Criterion, epc)
			break
		}
		if ss.TrainEnv.Epoch.Cur >= ss.MaxEpcs {
			mpi.Printf("Stopping at epoch cap %d below criterion (acc %.2f%%)\n", ss.MaxEpcs, stdAcc)
			break
		}
	}
	mpi.Printf("Test accuracy over training: %.2f%% -- %.2f%%\n", ss.TstAccRng.Min, ss.TstAccRng.Max)
	return nil
}

// SaveOutputs writes the trained model, the training record, and the
// audited per-trial test evaluation.
func (ss *Sim) SaveOutputs() error {
	mpath := filepath.Join(ss.OutDir, magnet.ModelName(&ss.Cfg)+".json.gz")
	if err := magnet.SaveModel(ss.Net, mpath); err != nil {
		return err
	}
	mpi.Printf("Saved model: %s\n", mpath)
	rpath := filepath.Join(ss.OutDir, magnet.RecordName(&ss.Cfg)+ss.tagTxt()+".json")
	if err := ss.Record.Save(rpath); err != nil {
		return err
	}
	mpi.Printf("Saved training record: %s\n", rpath)

	apath := filepath.Join(ss.OutDir, magnet.RecordName(&ss.Cfg)+ss.tagTxt()+"_audit.txt")
	af, err := os.Create(apath)
	if err != nil {
		return err
	}
	defer af.Close()
	if _, _, err := ss.Engine.TestEpoch(ss.Dataset.Test, af); err != nil {
		return err
	}
	mpi.Printf("Saved test audit: %s\n", apath)
	return nil
}

////////////////////////////////////////////////////////////////////////////
//  Analysis

// Analyze extracts mean hidden activations per unique input from the
// held-out cross-validation split, and saves the activation table, the
// correlation-distance RDM and a cluster plot of it.
func (ss *Sim) Analyze() error {
	base := filepath.Join(ss.OutDir, magnet.AnalysisName(&ss.Cfg)+ss.tagTxt())
	recs, err := ss.Engine.CollectActivations(ss.Dataset.CrossVal, magenv.Compare)
	if err != nil {
		return err
	}
	dt := magnet.ActTable(recs)
	if err := ss.SaveTable(dt, base+"_acts.tsv"); err != nil {
		return err
	}
	sm, err := magnet.RDM(dt)
	if err != nil {
		return err
	}
	if err := ss.SaveSimMat(sm, base+"_rdm.tsv"); err != nil {
		return err
	}
	ct := &etable.Table{}
	clust.Plot(ct, clust.Glom(sm, clust.ContrastDist), sm)
	if err := ss.SaveTable(ct, base+"_clust.tsv"); err != nil {
		return err
	}
	if ss.Cfg.IncludeFillers {
		frecs, err := ss.Engine.CollectActivations(ss.Dataset.CrossVal, magenv.Filler)
		if err != nil {
			return err
		}
		if err := ss.SaveTable(magnet.ActTable(frecs), base+"_filleracts.tsv"); err != nil {
			return err
		}
	}
	mpi.Printf("Saved activation analysis: %s\n", base)
	return nil
}

// Lesions runs the lesioned evaluation over both lesion kinds at each
// requested lesion frequency, saving the per-assessment table and the
// per-context aggregates.
func (ss *Sim) Lesions(freqs []float64) error {
	base := filepath.Join(ss.OutDir, magnet.AnalysisName(&ss.Cfg)+ss.tagTxt())
	for _, kind := range []magnet.LesionKind{magnet.LesionNumber, magnet.LesionContext} {
		for _, fq := range freqs {
			all, lacc, oacc, err := ss.Engine.LesionTest(ss.Dataset.Test, kind, float32(fq))
			if err != nil {
				return err
			}
			mpi.Printf("Lesion %v freq %g: assessed acc %.2f%%, overall acc %.2f%%\n", kind, fq, lacc, oacc)
			dt := magnet.LesionTable(all)
			nm := fmt.Sprintf("%s_lesion_%v_f%g", base, kind, fq)
			if err := ss.SaveTable(dt, nm+".tsv"); err != nil {
				return err
			}
			if err := ss.SaveTable(magnet.LesionStats(dt), nm+"_stats.tsv"); err != nil {
				return err
			}
		}
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////
//  Logging

func (ss *Sim) tagTxt() string {
	if ss.Tag == "" {
		return ""
	}
	return "_" + ss.Tag
}

// LogFileName returns the tab-separated log file name for the given log.
func (ss *Sim) LogFileName(lognm string) string {
	return filepath.Join(ss.OutDir, magnet.RecordName(&ss.Cfg)+ss.tagTxt()+"_"+lognm+".tsv")
}

func (ss *Sim) ConfigTrnEpcLog(dt *etable.Table) {
	dt.SetMetaData("name", "TrnEpcLog")
	dt.SetMetaData("desc", "Record of performance over epochs of training")
	dt.SetMetaData("read-only", "true")
	dt.SetMetaData("precision", strconv.Itoa(LogPrec))
	sch := etable.Schema{
		{Name: "Run", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "Epoch", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "StdLoss", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "StdAcc", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "FairLoss", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "FairAcc", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
	}
	dt.SetFromSchema(sch, 0)
}

func (ss *Sim) LogTrnEpc(dt *etable.Table, epc int, stdLoss, stdAcc, fairLoss, fairAcc float64) {
	row := dt.Rows
	dt.SetNumRows(row + 1)
	dt.SetCellFloat("Run", row, float64(ss.TrainEnv.Run.Cur))
	dt.SetCellFloat("Epoch", row, float64(epc))
	dt.SetCellFloat("StdLoss", row, stdLoss)
	dt.SetCellFloat("StdAcc", row, stdAcc)
	dt.SetCellFloat("FairLoss", row, fairLoss)
	dt.SetCellFloat("FairAcc", row, fairAcc)
	if ss.TrnEpcFile != nil {
		if row == 0 {
			dt.WriteCSVHeaders(ss.TrnEpcFile, etable.Tab)
		}
		dt.WriteCSVRow(ss.TrnEpcFile, row, etable.Tab)
	}
}

func (ss *Sim) ConfigTstEpcLog(dt *etable.Table) {
	dt.SetMetaData("name", "TstEpcLog")
	dt.SetMetaData("desc", "Record of testing performance over epochs of training")
	dt.SetMetaData("read-only", "true")
	dt.SetMetaData("precision", strconv.Itoa(LogPrec))
	sch := etable.Schema{
		{Name: "Run", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "Epoch", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "Loss", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "Acc", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
	}
	dt.SetFromSchema(sch, 0)
}

func (ss *Sim) LogTstEpc(dt *etable.Table, epc int, loss, acc float64) {
	row := dt.Rows
	dt.SetNumRows(row + 1)
	dt.SetCellFloat("Run", row, float64(ss.TrainEnv.Run.Cur))
	dt.SetCellFloat("Epoch", row, float64(epc))
	dt.SetCellFloat("Loss", row, loss)
	dt.SetCellFloat("Acc", row, acc)
	if ss.TstEpcFile != nil {
		if row == 0 {
			dt.WriteCSVHeaders(ss.TstEpcFile, etable.Tab)
		}
		dt.WriteCSVRow(ss.TstEpcFile, row, etable.Tab)
	}
}

// SaveTable writes a full table as tab-separated values.
func (ss *Sim) SaveTable(dt *etable.Table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dt.WriteCSVHeaders(f, etable.Tab)
	for row := 0; row < dt.Rows; row++ {
		dt.WriteCSVRow(f, row, etable.Tab)
	}
	return nil
}

// SaveSimMat writes a similarity matrix with row labels as tab-separated
// values.
func (ss *Sim) SaveSimMat(sm *simat.SimMat, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	n := sm.Mat.Dim(0)
	for _, lbl := range sm.Cols {
		fmt.Fprintf(f, "\t%s", lbl)
	}
	fmt.Fprintf(f, "\n")
	for i := 0; i < n; i++ {
		lbl := ""
		if i < len(sm.Rows) {
			lbl = sm.Rows[i]
		}
		fmt.Fprintf(f, "%s", lbl)
		for j := 0; j < n; j++ {
			fmt.Fprintf(f, "\t%.*g", LogPrec, sm.Mat.FloatVal1D(i*n+j))
		}
		fmt.Fprintf(f, "\n")
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////
//  Command line

// RunOne does a complete train-and-analyze pass for the current
// configuration.
func (ss *Sim) RunOne(saveEpcLog bool, lesionFreqs []float64) error {
	if err := ss.Config(); err != nil {
		return err
	}
	ss.Init()
	if saveEpcLog {
		var err error
		fnm := ss.LogFileName("trn_epc")
		ss.TrnEpcFile, err = os.Create(fnm)
		if err != nil {
			log.Println(err)
			ss.TrnEpcFile = nil
		} else {
			mpi.Printf("Saving training epoch log to: %v\n", fnm)
			defer ss.TrnEpcFile.Close()
		}
		fnm = ss.LogFileName("tst_epc")
		ss.TstEpcFile, err = os.Create(fnm)
		if err != nil {
			log.Println(err)
			ss.TstEpcFile = nil
		} else {
			mpi.Printf("Saving testing epoch log to: %v\n", fnm)
			defer ss.TstEpcFile.Close()
		}
	}
	if err := ss.Train(); err != nil {
		return err
	}
	if err := ss.SaveOutputs(); err != nil {
		return err
	}
	if err := ss.Analyze(); err != nil {
		return err
	}
	return ss.Lesions(lesionFreqs)
}

// parseFloats parses a comma-separated list of numbers.
func parseFloats(s string) ([]float64, error) {
	var vals []float64
	for _, fld := range strings.Split(s, ",") {
		fld = strings.TrimSpace(fld)
		if fld == "" {
			continue
		}
		v, err := strconv.ParseFloat(fld, 64)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

func parseInts(s string) ([]int, error) {
	var vals []int
	for _, fld := range strings.Split(s, ",") {
		fld = strings.TrimSpace(fld)
		if fld == "" {
			continue
		}
		v, err := strconv.Atoi(fld)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

func (ss *Sim) CmdArgs() {
	var note string
	var labelCtx string
	var mlp bool
	var resetState bool
	var noFillers bool
	var noEpcLog bool
	var lesionFreqTxt string
	var lrTxt string
	var bsTxt string
	flag.StringVar(&ss.Tag, "tag", "", "extra tag to add to file names saved from this run")
	flag.StringVar(&note, "note", "", "user note -- describe the run params etc")
	flag.Int64Var(&ss.RndSeed, "seed", 1, "random seed")
	flag.StringVar(&ss.DataDir, "datadir", "data", "directory for dataset files")
	flag.StringVar(&ss.OutDir, "outdir", "output", "directory for models, records, logs and analyses")
	flag.BoolVar(&ss.Cfg.TrainLong, "long", false, "train the long-sequence (linking pair) curriculum, continuing from the saved short-trained model")
	flag.BoolVar(&mlp, "mlp", false, "use the feedforward MLP variant instead of the recurrent network")
	flag.BoolVar(&ss.Cfg.Interleave, "interleave", false, "interleave the context number ranges within each block")
	flag.IntVar(&ss.Cfg.WhichContext, "whichctx", 0, "train on a single context range only: 0 = all, 1 = low, 2 = high")
	flag.StringVar(&labelCtx, "labelctx", "true", "context labelling policy: true, random or constant")
	flag.BoolVar(&resetState, "resetstate", false, "reset the hidden state at sequence boundaries instead of retaining it")
	flag.BoolVar(&noFillers, "nofillers", false, "omit filler trials between compare trials")
	flag.BoolVar(&ss.Cfg.RetrainDecoder, "retraindecoder", false, "decoder retraining mode: lesion the number input on alternating compare trials")
	var trlf float64
	flag.Float64Var(&trlf, "trainlesionfreq", 0, "frequency of number-input lesions on compare trials during training")
	var noise float64
	flag.Float64Var(&noise, "noise", 0, "std dev of noise injected into the recurrent state")
	flag.IntVar(&ss.Cfg.Epochs, "epochs", 10, "epoch budget for the long curriculum")
	flag.IntVar(&ss.MaxEpcs, "maxepcs", 200, "epoch cap for short-curriculum training")
	flag.Float64Var(&ss.Criterion, "criterion", 90, "percent training accuracy that ends short-curriculum training")
	flag.IntVar(&ss.Cfg.ModelID, "id", 0, "model instance id, distinguishing repeat trainings")
	flag.StringVar(&lesionFreqTxt, "lesionfreqs", "0", "comma-separated lesion frequencies for the lesion tests")
	flag.StringVar(&lrTxt, "lrs", "", "comma-separated learning rates to sweep (default: just the configured rate)")
	flag.StringVar(&bsTxt, "batches", "", "comma-separated batch sizes to sweep (default: just the configured size)")
	flag.BoolVar(&noEpcLog, "noepclog", false, "do not save epoch logs to files")
	flag.Parse()

	if note != "" {
		mpi.Printf("note: %s\n", note)
	}
	ss.Cfg.Recurrent = !mlp
	ss.Cfg.RetainState = !resetState
	ss.Cfg.IncludeFillers = !noFillers
	ss.Cfg.TrainLesionFreq = float32(trlf)
	ss.Cfg.NoiseStd = float32(noise)
	lp, err := magenv.LabelPolicyFromString(labelCtx)
	if err != nil {
		log.Fatal(err)
	}
	ss.Cfg.LabelContext = lp

	lesionFreqs, err := parseFloats(lesionFreqTxt)
	if err != nil {
		log.Fatal(err)
	}
	lrs, err := parseFloats(lrTxt)
	if err != nil {
		log.Fatal(err)
	}
	if len(lrs) == 0 {
		lrs = []float64{float64(ss.Cfg.Lr)}
	}
	bss, err := parseInts(bsTxt)
	if err != nil {
		log.Fatal(err)
	}
	if len(bss) == 0 {
		bss = []int{ss.Cfg.BatchSize}
	}

	if err := os.MkdirAll(ss.DataDir, 0755); err != nil {
		log.Fatal(err)
	}
	if err := os.MkdirAll(ss.OutDir, 0755); err != nil {
		log.Fatal(err)
	}

	for _, bs := range bss {
		for _, lr := range lrs {
			ss.Cfg.BatchSize = bs
			ss.Cfg.Lr = float32(lr)
			mpi.Printf("Running: batch size %d, lr %g\n", bs, lr)
			if err := ss.RunOne(!noEpcLog, lesionFreqs); err != nil {
				log.Fatal(err)
			}
		}
	}
}
