package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "healthverse"}

	root.AddCommand(serveCMD(), seedCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
