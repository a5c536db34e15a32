// Copyright 2015 Dorival Pedroso and Raul Durand. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cpmech/gosl/chk"

	"github.com/ribasim/ribasim-go/accounting"
	"github.com/ribasim/ribasim-go/callback"
	"github.com/ribasim/ribasim-go/inp"
	"github.com/ribasim/ribasim-go/internal/rlog"
	"github.com/ribasim/ribasim-go/results"
)

func main() {

	restartFile := flag.String("f", "", "warm-restart basin state file (overrides Basin_state table)")
	flag.Parse()

	if len(flag.Args()) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ribasim [-f restart_file] <config.toml>")
		os.Exit(2)
	}
	tomlPath := flag.Arg(0)

	defer func() {
		if err := recover(); err != nil {
			chk.Verbose = true
			rlog.Error("ribasim: %v", err)
			os.Exit(1)
		}
	}()

	if err := run(tomlPath, *restartFile); err != nil {
		rlog.Error("ribasim: %v", err)
		os.Exit(1)
	}
}

func run(tomlPath, restartFile string) error {
	rlog.Info("ribasim-go -- water allocation and routing simulation")

	cfg, err := inp.ReadConfig(tomlPath)
	if err != nil {
		return err
	}
	rlog.Verbosity(cfg.Logging.Verbosity)
	if err := rlog.SetOutputFile(cfg.ResultsDir + "/ribasim.log"); err != nil {
		rlog.Warn("ribasim: could not open log file: %v", err)
	}

	db, err := inp.OpenDatabase(cfg.InputDir)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := inp.Build(cfg, db)
	if err != nil {
		return err
	}

	if restartFile != "" {
		levels, err := inp.ReadBasinState(restartFile)
		if err != nil {
			return err
		}
		inp.ApplyBasinState(m, levels)
		rlog.Info("ribasim: applied warm-restart state from %q", restartFile)
	}

	t0 := float64(0)
	tEnd := cfg.EndTime.Sub(cfg.StartTime).Seconds()

	sc := callback.New(m, t0, tEnd)
	if err := sc.Run(); err != nil {
		return err
	}

	w := results.New(cfg)
	for _, snap := range sc.Snapshots {
		w.CollectSnapshot(snap)
	}
	if err := w.Close(); err != nil {
		return err
	}

	if len(sc.Snapshots) > 0 {
		last := sc.Snapshots[len(sc.Snapshots)-1]
		if err := accounting.WriteBasinState(cfg.ResultsDir+"/basin_state.txt", last.Rows); err != nil {
			return err
		}
	}

	rlog.Info("ribasim: finished at t=%g (%d save points)", sc.Driver.T, len(sc.Snapshots))
	return nil
}
