package version

import (
	"fmt"
	"io"
	"os"
)

var (
	// Package is filled at link time.
	Package = "github.com/martinjgriffiths/nucache"

	// Version is filled at link time.
	Version = "v0.1.0+unknown"

	// Revision is filled with the VCS revision being used to build the
	// program at linking time.
	Revision = ""
)

// FprintVersion outputs the version string to the writer, in the following
// format, followed by a newline:
//
//	<cmd> <project> <version> <revision>
func FprintVersion(w io.Writer) {
	fmt.Fprintln(w, os.Args[0], Package, Version, Revision)
}

// PrintVersion outputs the version information, from Fprint, to stdout.
func PrintVersion() {
	FprintVersion(os.Stdout)
}
