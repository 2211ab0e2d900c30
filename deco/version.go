package main

import (
	"fmt"
	"os/exec"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.Version=..."
var Version string
var Commit string

func init() {
	Cmd.AddCommand(versionCmd)
}

// getVersion prefers the build-time version, then the module version embedded by the Go
// toolchain, then git describe.
func getVersion() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	out, err := exec.Command("git", "describe", "--always", "--tags", "--dirty").Output()
	if err == nil {
		return strings.TrimSpace(string(out))
	}
	if Commit != "" {
		return Commit
	}
	return "unknown"
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(getVersion())
	},
}
