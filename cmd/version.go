package cmd

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Build metadata, set with
//
//	go build -ldflags "-X github.com/YuanQin2000/datax/cmd.Version=1.2.0 -X github.com/YuanQin2000/datax/cmd.Commit=$(git rev-parse --short HEAD)"
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

// buildInfo fills in the commit and date from the module's VCS stamp when
// ldflags did not set them.
func buildInfo() (commit, date string) {
	commit, date = Commit, BuildDate
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, date
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if commit == "" {
				commit = s.Value
				if len(commit) > 12 {
					commit = commit[:12]
				}
			}
		case "vcs.time":
			if date == "" {
				date = s.Value
			}
		}
	}
	return commit, date
}

func writeVersion(w io.Writer) error {
	commit, date := buildInfo()
	if commit == "" {
		commit = "unknown"
	}
	if date == "" {
		date = "unknown"
	}
	_, err := fmt.Fprintf(w, "datax %s\n  commit: %s\n  built:  %s\n  go:     %s %s/%s\n",
		Version, commit, date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints version and build information",
		Args:  cobra.NoArgs,
		// Needs no configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeVersion(cmd.OutOrStdout())
		},
	}
}
