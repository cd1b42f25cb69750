package main

import (
	"os"

	"github.com/LakshiRajika/Content-Moderation-AI/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
