//go:build !windows && !linux

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serviceCmd)
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the inventory agent service",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Service management is available on Windows (SCM) and Linux (systemd).")
	},
}
