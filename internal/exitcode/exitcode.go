// Package exitcode maps errors and run outcomes onto process exit codes.
package exitcode

import (
	"os"
	"strings"

	"github.com/felixgeelhaar/orchestra/internal/errors"
)

// Process exit codes. Scripts may rely on these values.
const (
	Success          = 0
	GeneralError     = 1
	UsageError       = 2 // bad flags or arguments
	ConfigError      = 3 // invalid manifest or configuration
	Blocked          = 4 // the workflow stopped on an escalation
	PersistenceError = 5 // state could not be read or written
	Interrupted      = 130
)

// byCategory maps error code families onto exit codes.
var byCategory = map[string]int{
	"CONFIG":     ConfigError,
	"ESCALATION": Blocked,
	"STATE":      PersistenceError,
}

// A missing or unparsable input file is a configuration problem.
var configIO = map[errors.ErrorCode]bool{
	errors.ErrCodeFileNotFound:  true,
	errors.ErrCodeFileUnmarshal: true,
}

// cobra reports usage problems as plain errors.
var usageMarkers = []string{
	"unknown command",
	"unknown flag",
	"unknown shorthand flag",
	"invalid argument",
	"required flag",
	"accepts ",
	"requires at least",
	"flag needs an argument",
}

// Exit terminates the process.
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError terminates the process with the code DetermineExitCode picks.
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// DetermineExitCode maps the error's code family onto an exit code. Uncoded
// errors are usage errors when cobra produced them, general errors otherwise.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}
	if code, ok := errors.CodeOf(err); ok {
		if exit, found := byCategory[code.Category()]; found {
			return exit
		}
		if configIO[code] {
			return ConfigError
		}
		return GeneralError
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range usageMarkers {
		if strings.Contains(msg, marker) {
			return UsageError
		}
	}
	return GeneralError
}
