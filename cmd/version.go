/*
Copyright © 2022 FairwindsOps Inc
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the kube-checker version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Version)
	},
}
