package main

import (
	"os"

	"github.com/rubberhead/serial-communicator/pkg/build/cmd"
	"github.com/rubberhead/serial-communicator/pkg/build/crossenv"
)

func main() {
	// cross-build passes the build command's exit status through; everything
	// else maps to 0 or 1
	os.Exit(crossenv.ExitCode(cmd.Execute()))
}
