package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/kerberos-io/timecodes/src/components"
	"github.com/kerberos-io/timecodes/src/config"
	"github.com/kerberos-io/timecodes/src/log"
	"github.com/kerberos-io/timecodes/src/timecodes"
)

func main() {
	os.Exit(run(os.Args, os.Stdout))
}

func usage(program string, stdout io.Writer) int {
	fmt.Fprintf(stdout, "Usage: %s input [timecodes.txt]\n", program)
	return 1
}

func run(args []string, stdout io.Writer) int {
	program := "timecodes"
	if len(args) > 0 {
		program = args[0]
	}
	if len(args) < 2 || len(args) > 3 || args[1] == "-h" || args[1] == "--help" {
		return usage(program, stdout)
	}

	// Read the settings from the environment and bootstrap the logger
	// before anything touches the filesystem.
	configuration, err := config.OpenConfig(os.Environ())
	if err != nil {
		fmt.Fprintln(os.Stderr, "can't read settings: "+err.Error())
		return 1
	}
	timezone, timezoneErr := config.GetTimezone(configuration)
	log.Log.Logger = configuration.LogOutput
	log.Log.Init(configuration.LogLevel, configuration.LogDirectory, timezone)
	if timezoneErr != nil {
		log.Log.Warning("main.run(): " + timezoneErr.Error() + ", using UTC")
	}

	input := args[1]
	output := timecodes.DefaultOutputPath(input)
	if len(args) == 3 {
		output = args[2]
	}

	if err := components.RunTimecodes(context.Background(), input, output, configuration, stdout); err != nil {
		log.Log.Error(err.Error())
		return 1
	}
	return 0
}
