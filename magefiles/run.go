//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Builds the shaders and runs the testbed. CONFIG selects the config file.
func (Run) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run engine...")
	args := []string{"run", "."}
	if cfg := os.Getenv("CONFIG"); cfg != "" {
		args = append(args, "-config", cfg)
	}
	_, err := executeCmd("go", withArgs(args...), withStream())
	return err
}
