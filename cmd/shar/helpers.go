package main

import (
	"path"
	"strings"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
	"go.polydawn.net/shar/fs"
)

func usageErr(msg string) error {
	return Errorf(shar.ErrUsage, "%s", msg)
}

// inputRelPath screens a command line path: inputs are addressed
// relative to the working directory, and may not climb above it.
func inputRelPath(arg string) (fs.RelPath, error) {
	if strings.HasPrefix(arg, "/") {
		return fs.RelPath{}, Errorf(shar.ErrUsage, "input paths must be relative: %q", arg)
	}
	cleaned := path.Clean(arg)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fs.RelPath{}, Errorf(shar.ErrUsage, "input path climbs above the working directory: %q", arg)
	}
	return fs.MustRelPath(cleaned), nil
}
