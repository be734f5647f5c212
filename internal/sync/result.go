package sync

import (
	"fmt"
	"time"
)

// Result is the outcome of an upload or download. It is one of Success,
// Conflict, NeedsHardcoreResolution, Failure, NoSaveFound or NotConfigured;
// callers switch on the concrete type.
type Result interface {
	// Outcome is a stable label for logs and metrics.
	Outcome() string
	isResult()
}

// Success means the transfer completed or was unnecessary.
type Success struct {
	RemoteSaveID    int64
	ServerTimestamp time.Time
	// Skipped is set when the content was already on the server.
	Skipped bool
}

// Conflict means local and server diverge and nothing was written.
type Conflict struct {
	GameID          int64
	LocalTimestamp  time.Time
	ServerTimestamp time.Time
}

// NeedsHardcoreResolution means the device holds a hardcore save but the
// server copy is not hardcore. The downloaded artifact is parked at TempPath
// until the user picks a resolution.
type NeedsHardcoreResolution struct {
	GameID      int64
	GameTitle   string
	EmulatorID  string
	Channel     string
	TempPath    string
	TargetPath  string
	FolderBased bool
}

// Failure is a network, IO or server failure.
type Failure struct {
	Message string
	Err     error
}

// NoSaveFound means there is no usable local save.
type NoSaveFound struct{}

// NotConfigured means no save server is configured.
type NotConfigured struct{}

func (Success) Outcome() string                 { return "success" }
func (Conflict) Outcome() string                { return "conflict" }
func (NeedsHardcoreResolution) Outcome() string { return "needs_hardcore_resolution" }
func (Failure) Outcome() string                 { return "error" }
func (NoSaveFound) Outcome() string             { return "no_save_found" }
func (NotConfigured) Outcome() string           { return "not_configured" }

func (Success) isResult()                 {}
func (Conflict) isResult()                {}
func (NeedsHardcoreResolution) isResult() {}
func (Failure) isResult()                 {}
func (NoSaveFound) isResult()             {}
func (NotConfigured) isResult()           {}

func (f Failure) Error() string {
	if f.Err != nil && f.Message == "" {
		return f.Err.Error()
	}
	return f.Message
}

func (f Failure) Unwrap() error {
	return f.Err
}

func failf(format string, args ...interface{}) Failure {
	return Failure{Message: fmt.Sprintf(format, args...)}
}

func failure(message string, err error) Failure {
	if err == nil {
		return Failure{Message: message}
	}
	return Failure{Message: message + ": " + err.Error(), Err: err}
}

// Describe renders a result for logs and terminal output.
func Describe(r Result) string {
	switch v := r.(type) {
	case Success:
		if v.Skipped {
			return "success (unchanged)"
		}
		if v.RemoteSaveID > 0 {
			return fmt.Sprintf("success (remote save %d)", v.RemoteSaveID)
		}
		return "success"
	case Conflict:
		return fmt.Sprintf("conflict (local %s, server %s)",
			v.LocalTimestamp.Format(time.RFC3339), v.ServerTimestamp.Format(time.RFC3339))
	case NeedsHardcoreResolution:
		return fmt.Sprintf("hardcore resolution required (download parked at %s)", v.TempPath)
	case Failure:
		return "error: " + v.Error()
	case NoSaveFound:
		return "no save found"
	case NotConfigured:
		return "save server not configured"
	default:
		return "unknown"
	}
}
