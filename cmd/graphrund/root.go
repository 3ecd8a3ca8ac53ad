package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "graphrund",
	Short: "graphrund runs LLM-agent workflow graphs",
	Long: `graphrund consumes session schemas from the message broker, executes
their workflow graphs (crew, python, llm and decision-table nodes) and
streams every lifecycle event back over the broker.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "graphrun.yaml", "Path to the configuration file")
}
