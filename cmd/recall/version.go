// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// buildDetails is what the version command reports beyond the stamped
// version string.
type buildDetails struct {
	GoVersion string
	Platform  string
	Revision  string
	Time      string
	Modified  bool
}

func readBuildDetails() buildDetails {
	d := buildDetails{GoVersion: runtime.Version(), Platform: runtime.GOOS + "/" + runtime.GOARCH}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return d
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			d.Revision = s.Value
		case "vcs.time":
			d.Time = s.Value
		case "vcs.modified":
			d.Modified = s.Value == "true"
		}
	}
	return d
}

func writeVersion(w io.Writer, v string, d buildDetails, short bool) {
	if short {
		fmt.Fprintln(w, v)
		return
	}
	fmt.Fprintf(w, "recall %s\n", v)
	fmt.Fprintf(w, "  go:       %s\n", d.GoVersion)
	fmt.Fprintf(w, "  platform: %s\n", d.Platform)
	if d.Revision != "" {
		rev := d.Revision
		if len(rev) > 12 {
			rev = rev[:12]
		}
		if d.Modified {
			rev += " (modified)"
		}
		fmt.Fprintf(w, "  commit:   %s\n", rev)
	}
	if d.Time != "" {
		fmt.Fprintf(w, "  built:    %s\n", d.Time)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the recall version and build details",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		short, _ := cmd.Flags().GetBool("short")
		writeVersion(cmd.OutOrStdout(), version, readBuildDetails(), short)
	},
}

func init() {
	versionCmd.Flags().Bool("short", false, "print only the version string")
	rootCmd.AddCommand(versionCmd)
}
