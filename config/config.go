/*
	Helpers for loading contextual defaults.

	Defaults for shar mean "things that are the submitting machine's
	concerns": who the archive says it came from, mostly.  These are
	read from the environment rather than passed in calls because they
	describe the machine the command runs on, not the archive being
	built; pack.Options carries the resolved values, and the library
	layers below never touch the environment themselves.
*/
package config

import (
	"os"
)

/*
	Return the submitter identity stamped into archive headers when the
	caller gives none.

	The default value is `"$LOGNAME@hostname"` (falling back through
	`$USER` to `"unknown"`); this can be overridden wholesale by the
	`SHAR_SUBMITTER` environment variable.
*/
func Submitter() string {
	if s := os.Getenv("SHAR_SUBMITTER"); s != "" {
		return s
	}
	user := os.Getenv("LOGNAME")
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		user = "unknown"
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return user + "@" + host
}
