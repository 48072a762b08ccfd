// Command tapwatch-feed is the platform glue that reports foreground
// observations to the tapwatch agent. Whatever integration knows the current
// foreground app (an accessibility hook, a window-manager script, adb
// bridging from a device) invokes this binary with the package name; the
// observation is appended to the spool file the agent polls.
//
// Usage:
//
//	tapwatch-feed com.instagram.android
//
// The spool path comes from TAPWATCH_SPOOL, defaulting to
// ~/.tapwatch/foreground.log. Appends use O_APPEND for atomic single-write
// semantics so concurrent reporters never interleave lines.
//
// The feed must NOT import any internal tapwatch packages; it is a
// standalone binary deployed separately from the main CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func main() {
	if len(os.Args) != 2 || os.Args[1] == "" {
		fmt.Fprintln(os.Stderr, "usage: tapwatch-feed <package-name>")
		os.Exit(2)
	}

	path, err := spoolPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tapwatch-feed: %v\n", err)
		os.Exit(1)
	}

	if err := appendObservation(path, os.Args[1], time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "tapwatch-feed: %v\n", err)
		os.Exit(1)
	}
}

// spoolPath resolves the spool file location, creating its directory.
func spoolPath() (string, error) {
	if p := os.Getenv("TAPWATCH_SPOOL"); p != "" {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return "", err
		}
		return p, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".tapwatch")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "foreground.log"), nil
}

// appendObservation writes one "<unix_nano>,<package>" line.
func appendObservation(path, pkg string, at time.Time) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%d,%s\n", at.UnixNano(), pkg)
	return err
}
