package client

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// cd into an absolute directory; shell quoting adds ' around paths with
	// spaces or quotes
	absoluteCdPattern = regexp.MustCompile(`^cd '?/`)
	// a command invoked through an absolute path
	absoluteCmdPattern = regexp.MustCompile(`^'?/`)
)

// MakeScriptPortable strips the machine-specific parts of a captured compile
// script. The result must run with the toolchain binaries on $PATH and with
// the working directory set to the project root by the runner.
//
// Absolute cd lines are dropped. A leading absolute command path is replaced
// by "$(which <basename>)" so the binary still sees an absolute path, with
// the rest of the line kept verbatim.
func MakeScriptPortable(script string) (string, error) {
	lines := strings.Split(script, "\n")
	out := make([]string, 0, len(lines))

	for i, line := range lines {
		if absoluteCdPattern.MatchString(line) {
			continue
		}
		if absoluteCmdPattern.MatchString(line) {
			rewritten, err := rewriteCommand(line)
			if err != nil {
				return "", fmt.Errorf("line %d: %w", i+1, err)
			}
			line = rewritten
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n"), nil
}

func rewriteCommand(line string) (string, error) {
	quote := ""
	if strings.HasPrefix(line, "'") {
		quote = "'"
	}

	end := strings.Index(line, quote+" ")
	if end == -1 {
		end = len(line)
	} else {
		end += len(quote)
	}

	slash := strings.LastIndex(line[:end], "/")
	if slash == -1 {
		return "", fmt.Errorf("no path separator in command %q", line[:end])
	}

	return "$(which " + quote + line[slash+1:end] + ")" + line[end:], nil
}
