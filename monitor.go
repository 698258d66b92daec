package shar

/*
	Monitoring configuration struct, and the message types used.

	Both packing and unpacking accept a Monitor; a nil channel disables
	all intermediate reporting, so zero values are always safe to pass.
*/
type (
	Monitor struct {
		// Channel to which events will be sent as the process proceeds.
		// The channel will be closed when the process is done or cancelled.
		// A nil channel disables all intermediate progress reporting.
		Chan chan<- Event
	}

	// A "union" type of all the kinds of event that may be generated in
	// the course of packing or unpacking.
	Event struct {
		Log    *Event_Log    `refmt:"log,omitempty"`
		Result *Event_Result `refmt:"result,omitempty"`
	}

	Event_Log struct {
		Level  LogLevel
		Msg    string
		Detail [][2]string
	}

	// The "Result" message is never sent to Monitor.Chan -- its values
	// are converted into function returns -- but *is* seen in the serial
	// form on the wire when a CLI reports in a structured format.
	Event_Result struct {
		Msg   string
		Error string `refmt:",omitempty"`
	}
)

type LogLevel int8

const (
	LogError LogLevel = 4
	LogWarn  LogLevel = 3
	LogInfo  LogLevel = 2
	LogDebug LogLevel = 1
)

func (mon Monitor) Send(evt Event) {
	if mon.Chan == nil {
		return
	}
	mon.Chan <- evt
}

// Emit a log event; saves typing at call sites and keeps the common
// stuff formatted in a common way between the pack and unpack sides.
func (mon Monitor) Log(level LogLevel, msg string, detail ...[2]string) {
	if mon.Chan == nil {
		return
	}
	mon.Chan <- Event{Log: &Event_Log{
		Level:  level,
		Msg:    msg,
		Detail: detail,
	}}
}

func (mon Monitor) Close() {
	if mon.Chan != nil {
		close(mon.Chan)
	}
}
