// Package cli parses command-line arguments into an app.Config. It is a
// thin wrapper; the pipeline core has no CLI surface of its own.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/vk/photopipe/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated
// app.Config, a boolean indicating if the program should exit cleanly, or
// an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	flagSet := flag.NewFlagSet("photopipe", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
photopipe - chains an optical photon-transport solver and an acoustic
wave-propagation solver into one reproducible simulation pipeline.

Usage:
  photopipe -config PIPELINE_HCL -volume VOLUME_HCL [options]

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "", "Path to the pipeline configuration file.")
	volumeFlag := flagSet.String("volume", "", "Path to the simulation volume file.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	retainFlag := flagSet.Bool("retain", false, "Retain the run workspace for post-mortem inspection.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	if *configFlag == "" || *volumeFlag == "" {
		flagSet.Usage()
		return nil, true, nil
	}

	appConfig, err := app.NewConfig(app.Config{
		ConfigPath:      *configFlag,
		VolumePath:      *volumeFlag,
		LogFormat:       strings.ToLower(*logFormatFlag),
		LogLevel:        strings.ToLower(*logLevelFlag),
		RetainWorkspace: *retainFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	return appConfig, false, nil
}
