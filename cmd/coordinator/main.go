// coordinator runs the ProofPlus proof task coordinator and its operator tools.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version metadata injected via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "coordinator: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	return 0
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "coordinator",
		Short:         "ProofPlus proof task coordinator",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().String("config", "", "Config file (default config.local.yaml or config.yaml)")
	root.AddCommand(
		newRunCmd(),
		newVerifyDBCmd(stdout),
		newDigestCmd(stdout),
		newFFICalldataCmd(stdout),
		newTOTPSecretCmd(stdout),
		newGenerateJWTCmd(stdout),
	)
	return root
}
