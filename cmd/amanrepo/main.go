// Package main provides the entry point for the amanrepo CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/amanrepo/cmd/amanrepo/cmd"
	amerrors "github.com/Aman-CERP/amanrepo/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, amerrors.FormatForCLI(err))
		os.Exit(1)
	}
}
