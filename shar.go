/*
	Package shar holds the shared vocabulary of the shar toolset:
	error categories and their paired exit codes, the monitor/event
	types used for progress reporting, and the overwrite policy enum.

	The wording of the exit code table is part of the documented
	external interface of the tools and must not be renumbered.
*/
package shar

type ErrorCategory string
type ExitCode int

const (
	ExitSuccess                                         = ExitCode(0)
	ExitUsage, ErrUsage                                 = ExitCode(1), ErrorCategory("shar-usage-error")        // Some piece of user input was invalid and unrunnable.
	ExitMissingInput, ErrMissingInput                   = ExitCode(2), ErrorCategory("shar-missing-input")      // An input file is absent or unreadable.
	ExitArchiveCorrupt, ErrArchiveCorrupt               = ExitCode(3), ErrorCategory("shar-archive-corrupt")    // The archive text is malformed beyond recovery for the unit being processed.
	ExitDestinationUnwritable, ErrDestinationUnwritable = ExitCode(4), ErrorCategory("shar-dest-unwritable")    // Filesystem permission or creation failure at the destination.
	ExitCompactionFailure, ErrCompactionToolFailure     = ExitCode(5), ErrorCategory("shar-compaction-failure") // An external compaction tool exited nonzero.
	ExitInternal, ErrInternal                           = ExitCode(6), ErrorCategory("shar-internal")           // Resource exhaustion or other internal failure.
	ExitBug                                             = ExitCode(70)                                          // Reserved.  Indicates a bug in these tools.
)

// Codec error categories.  Each names one distinct way a uuencode or
// base64 block can be unreadable (spec'd framing, not heuristics).
const (
	ErrCodecMissingBegin    = ErrorCategory("shar-codec-missing-begin")    // No begin/begin-base64 line found.
	ErrCodecMalformedHeader = ErrorCategory("shar-codec-malformed-header") // Begin line present but mode or name field unreadable.
	ErrCodecLineLength      = ErrorCategory("shar-codec-line-length")      // Classic scheme: declared length disagrees with decoded byte count.
	ErrCodecInvalidByte     = ErrorCategory("shar-codec-invalid-byte")     // Body contains a byte outside the scheme alphabet.
	ErrCodecMissingEnd      = ErrorCategory("shar-codec-missing-end")      // Stream ended before the end marker.
)

// Extraction error categories.  These are per-file or per-segment;
// see the unpack package for the continuation policy.
const (
	ErrCountMismatch         = ErrorCategory("shar-count-mismatch")    // Restored file byte count disagrees with the archive's record.
	ErrDigestMismatch        = ErrorCategory("shar-digest-mismatch")   // Restored file digest disagrees with the archive's record.
	ErrPathTraversalRejected = ErrorCategory("shar-path-traversal")    // A destination path tried to escape the target directory.
	ErrOverwriteRefused      = ErrorCategory("shar-overwrite-refused") // Destination exists and the overwrite policy forbade replacing it.
	ErrTruncatedArchive      = ErrorCategory("shar-truncated-archive") // Missing or out-of-order split part, or EOF mid-segment.
	ErrValidation            = ErrorCategory("shar-validation")        // Malformed configuration reached the core.
)

// Mapping of categories to exit codes for the CLI layer.
// Per-file categories map to ExitArchiveCorrupt's neighborhood only when
// they are the sole outcome of a run; the cli package owns that policy.
func CategoryExitCode(category ErrorCategory) ExitCode {
	switch category {
	case "":
		return ExitSuccess
	case ErrUsage, ErrValidation:
		return ExitUsage
	case ErrMissingInput:
		return ExitMissingInput
	case ErrArchiveCorrupt, ErrTruncatedArchive,
		ErrCodecMissingBegin, ErrCodecMalformedHeader, ErrCodecLineLength,
		ErrCodecInvalidByte, ErrCodecMissingEnd:
		return ExitArchiveCorrupt
	case ErrDestinationUnwritable, ErrPathTraversalRejected, ErrOverwriteRefused:
		return ExitDestinationUnwritable
	case ErrCompactionToolFailure:
		return ExitCompactionFailure
	case ErrCountMismatch, ErrDigestMismatch:
		return ExitArchiveCorrupt
	default:
		return ExitInternal
	}
}

// OverwritePolicy says what the interpreter should do when a destination
// file already exists.
type OverwritePolicy string

const (
	Overwrite_Reject      OverwritePolicy = "reject"      // Fail the file if the path exists.
	Overwrite_Force       OverwritePolicy = "force"       // Truncate unconditionally.
	Overwrite_Interactive OverwritePolicy = "interactive" // Ask the prompter collaborator; abort the file on refusal.
)
