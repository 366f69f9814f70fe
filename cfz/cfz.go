// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// cfz reproduces fuzzing infrastructure crashes locally: it resolves the
// testcase's job into a build configuration, provisions the source tree or
// downloads the prebuilt binary, builds, and runs the testcase repeatedly.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/google/clusterfuzz-tools/pkg/jobs"
	"github.com/google/clusterfuzz-tools/pkg/log"
)

var rootCmd = &cobra.Command{
	Use:           "cfz",
	Short:         "local crash reproduction for fuzzing infrastructure testcases",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetVerbosity(verbosity)
	},
}

var (
	verbosity  int
	jobsFile   string
	workdir    string
	serverAddr string
)

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"increase output verbosity (repeatable)")
	rootCmd.PersistentFlags().StringVar(&jobsFile, "jobs-config", "",
		"YAML file with extra job definitions merged over the builtin table")
	rootCmd.PersistentFlags().StringVar(&workdir, "workdir", defaultWorkdir(),
		"directory for per-testcase state (downloads, builds)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultServer,
		"fuzzing infrastructure API endpoint")
}

func loadTable() (*jobs.Table, error) {
	table := jobs.DefaultTable()
	if jobsFile == "" {
		return table, nil
	}
	return table.LoadFile(jobsFile)
}

func defaultWorkdir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clusterfuzz"
	}
	return filepath.Join(home, ".clusterfuzz")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cfz: %v\n", err)
		os.Exit(2)
	}
}
