package main

import (
	"context"
	"errors"
	"os"

	"github.com/BadgerOps/deployer/internal/deploy"
	"github.com/BadgerOps/deployer/internal/frontend"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		// Aborts have already been reported.
		if !errors.Is(err, deploy.ErrAborted) && !errors.Is(err, context.Canceled) {
			frontend.NewStdConsole().Error(err.Error())
		}
		os.Exit(1)
	}
}
