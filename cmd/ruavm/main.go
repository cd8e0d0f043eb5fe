// cmd/ruavm/main.go
package main

import (
	"fmt"
	"log"
	"os"

	"ruavm/internal/hostlib/db"
	"ruavm/internal/hostlib/net"
	"ruavm/internal/vm"
)

const version = "0.1.0"

// main implements spec.md §6's CLI surface: `ruavm <luac-file>` loads a
// precompiled chunk and runs it to completion. Grounded on
// cmd/sentra/main.go's manual os.Args parsing (no cobra/pflag) and its
// --version/--help handling style; unlike sentra, there is no
// subcommand table here (the core VM has exactly one job: run a
// chunk), and no disassembler/listing mode (spec.md Non-goal).
func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "--version", "-v", "-version", "version":
		fmt.Println("ruavm", version)
		return
	case "--help", "-h", "help":
		showUsage()
		return
	}

	if err := run(args[0]); err != nil {
		log.Fatalf("ruavm: %v", err)
	}
}

func run(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	s := vm.NewState()
	db.Register(s)
	net.Register(s)

	if err := s.Load(data, path); err != nil {
		return err
	}
	return s.Call(0, 0)
}

func showUsage() {
	fmt.Println("usage: ruavm <luac-file>")
	fmt.Println("       ruavm --version")
}
