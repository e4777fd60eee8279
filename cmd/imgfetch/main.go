// Command imgfetch downloads and resizes images from Google image search.
package main

import (
	"os"

	"github.com/FranksOps/imgfetch/internal/cli"
)

// version is set at build time via ldflags
var version = "dev"

func main() {
	cli.SetVersion(version)
	if err := cli.Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
