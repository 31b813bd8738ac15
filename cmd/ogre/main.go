package main

import (
	"context"
	"errors"
	"os"
)

func main() {
	root := newRootCommand()
	err := root.Execute()
	if err == nil {
		return
	}
	// Interrupts already print nothing useful; everything else does.
	if !errors.Is(err, context.Canceled) {
		root.PrintErrln("ogre:", err)
	}
	os.Exit(1)
}
