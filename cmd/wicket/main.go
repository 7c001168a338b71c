package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "wicket",
	Short: "Wicket session gateway",
	Long:  "Wicket is a session-holding gateway that sits between browsers and a dashboard application, owning the token lifecycle (login, refresh, logout), enforcing role-based route guards, and proxying requests to the upstream with the client's access token attached.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/wicket.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
