// Command aj64jit loads an ESET-VM2 bytecode file, JIT-translates it to
// native ARM64 machine code, and runs it inside the sandboxed harness.
//
// The process re-execs itself into a child marked by the AJ64_CHILD
// environment variable before doing anything with guest bytecode: the
// child installs the SIGSEGV/SIGBUS handler and runs the guest, so a
// sandbox-boundary violation or a genuinely unrecoverable fault only
// ever tears down the child's process, never the parent driving the CLI.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/bitforge-vm/aj64jit/internal/config"
	"github.com/bitforge-vm/aj64jit/internal/isa"
	"github.com/bitforge-vm/aj64jit/internal/obslog"
	"github.com/bitforge-vm/aj64jit/internal/sandbox"
)

const childEnv = "AJ64_CHILD"

func main() {
	var (
		payloadPath string
		softMs      int64
		hardMs      int64
		logLevel    string
	)

	root := &cobra.Command{
		Use:   "aj64jit <bytecode-file>",
		Short: "JIT-compile and run an ESET-VM2 bytecode program under sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bytecodePath := args[0]

			cfg := config.Default()
			if cmd.Flags().Changed("soft-ms") {
				cfg.SoftTimeout = time.Duration(softMs) * time.Millisecond
			}
			if cmd.Flags().Changed("hard-ms") {
				cfg.HardTimeout = time.Duration(hardMs) * time.Millisecond
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := obslog.Init(cfg.LogLevel); err != nil {
				return err
			}

			if os.Getenv(childEnv) == "1" {
				return runAsChild(bytecodePath, payloadPath, cfg)
			}
			return runAsParent(bytecodePath, payloadPath, cfg)
		},
	}

	root.Flags().StringVar(&payloadPath, "payload", "", "path to a read/write payload file for file_read/file_write")
	root.Flags().Int64Var(&softMs, "soft-ms", 0, "soft timeout in milliseconds (default 3000)")
	root.Flags().Int64Var(&hardMs, "hard-ms", 0, "hard timeout in milliseconds (default 5000)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error, crit")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runAsParent re-execs this same binary into a child process carrying the
// AJ64_CHILD marker, then waits on it and maps its exit status straight
// through: the fork happens at the process level, never inside the Go
// runtime, because true fork() is unsafe alongside goroutines.
func runAsParent(bytecodePath, payloadPath string, cfg config.Config) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("aj64jit: resolve self path: %w", err)
	}

	childArgs := append([]string{}, os.Args[1:]...)
	cmd := exec.Command(self, childArgs...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), childEnv+"=1")

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		return fmt.Errorf("aj64jit: run child: %w", err)
	}
	_ = bytecodePath
	_ = payloadPath
	_ = cfg
	os.Exit(0)
	return nil
}

// runAsChild is the process body that actually decodes, translates, and
// runs the guest program. It never returns along the fault-handler path:
// a SIGSEGV/SIGBUS in guest code calls _exit(3) directly from C.
func runAsChild(bytecodePath, payloadPath string, cfg config.Config) error {
	raw, err := os.ReadFile(bytecodePath)
	if err != nil {
		return fmt.Errorf("aj64jit: read bytecode file: %w", err)
	}

	prog, err := isa.ParseFile(raw)
	if err != nil {
		return fmt.Errorf("aj64jit: parse bytecode file: %w", err)
	}

	code := sandbox.RunChild(prog, cfg, payloadPath)
	os.Exit(code)
	return nil
}
