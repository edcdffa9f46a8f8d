package client

import (
	"fmt"
	"os"
	"path/filepath"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

// ParseFileArg checks that exactly one argument was given and that it names
// a readable regular file. The cleaned path is returned.
func ParseFileArg(args []string) (string, error) {
	if len(args) == 0 {
		return "", &ValidationError{Arg: "<file>", Cause: "no file provided"}
	}
	if len(args) > 1 {
		return "", &ValidationError{Arg: args[1], Cause: "only one file may be uploaded"}
	}

	raw := args[0]
	p := filepath.Clean(raw)
	info, err := os.Stat(p)
	if err != nil {
		return "", &ValidationError{Arg: raw, Cause: "not found or not accessible"}
	}
	if info.IsDir() {
		return "", &ValidationError{Arg: raw, Cause: "is a directory"}
	}
	if !info.Mode().IsRegular() {
		return "", &ValidationError{Arg: raw, Cause: "not a regular file"}
	}

	return p, nil
}
