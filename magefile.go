//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
)

// Default target to run when none is specified
// If not set, running mage will list available targets
var Default = Build

// Build compiles every executable into ./bin
func Build() error {
	mg.Deps(BuildDaqd)
	fmt.Println("Compilation finished")
	return nil
}

// goCmd runs the go tool with the cgo flags HDF5 needs.
func goCmd(args ...string) error {
	ldflags := os.Getenv("CGO_LDFLAGS")
	cflags := os.Getenv("CGO_CFLAGS")
	cmd := exec.Command("go", args...)
	cmd.Env = append(os.Environ(),
		"CGO_ENABLED=1",
		fmt.Sprintf("CGO_LDFLAGS=%s", ldflags),
		fmt.Sprintf("CGO_CFLAGS=%s", cflags))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func BuildDaqd() error {
	fmt.Println("Building daqd executable...")
	return goCmd("build", "-o", "./bin/daqd", "./daqd")
}

// Test runs the unit tests
func Test() error {
	fmt.Println("Running tests...")
	return goCmd("test", "./...")
}

func Vet() error {
	fmt.Println("Running go vet...")
	return goCmd("vet", "./...")
}
