/*
	Package cli carries the glue shared by the shar family binaries:
	result and log event serialization, and the mapping from error
	categories to documented process exit codes.
*/
package cli

import (
	"fmt"
	"io"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"
	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
)

/*
	Output serialization formats
*/
const (
	FmtJson = "json"
	FmtDumb = "dumb"
)

// SerializeResult reports a command's terminal outcome on stdout (or
// stderr for dumb-format failures).
func SerializeResult(format string, msg string, resultErr error, stdout, stderr io.Writer) {
	result := &shar.Event_Result{Msg: msg}
	if resultErr != nil {
		result.Error = resultErr.Error()
	}
	ev := shar.Event{Result: result}
	switch format {
	case FmtJson:
		marshaller := refmt.NewMarshallerAtlased(json.EncodeOptions{}, stdout, shar.Atlas)
		err := marshaller.Marshal(&ev)
		if err != nil {
			panic(err)
		}
	case FmtDumb:
		if resultErr != nil {
			fmt.Fprintln(stderr, resultErr)
		} else if msg != "" {
			fmt.Fprintln(stdout, msg)
		}
	default:
		panic(fmt.Errorf("shar: invalid format %s", format))
	}
}

/*
	NewPrintingMonitor returns a monitor whose events are printed as
	they arrive: plain lines on stderr in dumb format, or json event
	objects on stdout.  Call the returned func to close the monitor and
	wait for the printer to drain.
*/
func NewPrintingMonitor(format string, stdout, stderr io.Writer) (shar.Monitor, func()) {
	ch := make(chan shar.Event, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range ch {
			printEvent(format, evt, stdout, stderr)
		}
	}()
	mon := shar.Monitor{Chan: ch}
	return mon, func() {
		mon.Close()
		<-done
	}
}

func printEvent(format string, evt shar.Event, stdout, stderr io.Writer) {
	switch format {
	case FmtJson:
		marshaller := refmt.NewMarshallerAtlased(json.EncodeOptions{}, stdout, shar.Atlas)
		if err := marshaller.Marshal(&evt); err != nil {
			panic(err)
		}
	case FmtDumb:
		if evt.Log == nil {
			return
		}
		fmt.Fprintf(stderr, "%s", evt.Log.Msg)
		for _, kv := range evt.Log.Detail {
			fmt.Fprintf(stderr, " %s=%q", kv[0], kv[1])
		}
		fmt.Fprintln(stderr)
	}
}

// ExitCodeForError maps an error onto the documented exit code table.
func ExitCodeForError(err error) shar.ExitCode {
	if err == nil {
		return shar.ExitSuccess
	}
	category, ok := Category(err).(shar.ErrorCategory)
	if !ok {
		return shar.ExitInternal
	}
	return shar.CategoryExitCode(category)
}
