package main

import (
	"fmt"

	"github.com/la-tribu/tribu-cache/internal/version"
)

func printVersion() {
	_, _ = fmt.Fprintln(stdOut, version.Full())
}
