package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ain/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ain version",
	Run: func(cmd *cobra.Command, args []string) {
		def := config.DefaultConfig()
		fmt.Printf("%s v%s\n", def.Identity.Name, def.Identity.Version)
	},
}
