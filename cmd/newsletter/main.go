package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{
		Use:          "newsletter",
		Short:        "Fetch the day's health news, write a newsletter with an LLM and email it",
		SilenceUsage: true,
	}

	root.AddCommand(runCMD(), migrateCMD(), historyCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(prefix string) *log.Logger {
	return log.New(os.Stdout, prefix, log.LstdFlags)
}
