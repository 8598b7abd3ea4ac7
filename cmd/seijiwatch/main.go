package main

import (
	"os"

	"github.com/bxtxh/seiji-watch-sub000/cmd/seijiwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
