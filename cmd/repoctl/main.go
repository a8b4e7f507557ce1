package main

import (
	"fmt"
	"os"

	"github.com/dmitrijs2005/repostore/cmd/repoctl/cli"
)

var (
	version = "0.0.1-dev"
	commit  = "main"
)

func main() {
	root := cli.NewRootCommand(cli.VersionInfo{
		Version: version,
		Commit:  commit,
	})

	root.AddCommand(cli.NewTriggerCommand())
	root.AddCommand(cli.NewHealthCommand())
	root.AddCommand(cli.NewJobsCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
