package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/chirp/cmd/gen"
	"github.com/luma/chirp/internal/meta"
)

var RootCmd = &cobra.Command{
	Use:   "chirp",
	Short: "Chirp is an instant messaging client",
	Long: `Chirp is a session-based instant messaging client.

It logs into the service, keeps a live contact and group directory,
and exchanges messages over a long-poll event channel.`,
}

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build and version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := meta.GetInfo()
		fmt.Printf("chirp %s (%s, %s, built %s, %s)\n",
			info.Version, info.Build, info.Branch, info.BuildTime, info.GoVersion)
	},
}

func init() {
	RootCmd.AddCommand(StartCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
