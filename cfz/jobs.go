// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var supportedJobsCmd = &cobra.Command{
	Use:   "supported-jobs",
	Short: "list the job types the tool can reproduce",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := loadTable()
		if err != nil {
			return err
		}
		for _, name := range table.Names() {
			if verbosity == 0 {
				fmt.Println(name)
				continue
			}
			cfg, err := table.Resolve(name)
			if err != nil {
				return err
			}
			fmt.Printf("%-40v builder=%-9v source=%-9v sanitizer=%-5v binary=%v\n",
				name, cfg.Builder, cfg.Source, cfg.Sanitizer, cfg.Binary)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(supportedJobsCmd)
}
