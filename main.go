package main

import (
	"os"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/cmd"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	root := cmd.RootCommand(cmd.BuildInfo{
		Version:   version,
		BuildTime: buildTime,
		GitCommit: gitCommit,
	})
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
