package conflict

import (
	"time"
)

// Decision is the outcome of the pre-launch check. It is one of
// NoConnection, NoServerSave, LocalIsNewer, ServerIsNewer or LocalModified.
type Decision interface {
	Outcome() string
	isDecision()
}

// NoConnection means the server could not be consulted.
type NoConnection struct{}

// NoServerSave means the server has no save for the active channel.
type NoServerSave struct{}

// LocalIsNewer means the local save can be launched as is.
type LocalIsNewer struct{}

// ServerIsNewer means the server save should be downloaded before launch.
// The sync record has been flagged SERVER_NEWER.
type ServerIsNewer struct {
	ServerTimestamp time.Time `json:"server_timestamp"`
	Channel         string    `json:"channel,omitempty"`
}

// LocalModified means the local save changed outside the sync history and
// the user must choose which side to keep.
type LocalModified struct {
	LocalPath       string    `json:"local_path"`
	ServerTimestamp time.Time `json:"server_timestamp"`
	Channel         string    `json:"channel,omitempty"`
}

func (NoConnection) Outcome() string  { return "no_connection" }
func (NoServerSave) Outcome() string  { return "no_server_save" }
func (LocalIsNewer) Outcome() string  { return "local_is_newer" }
func (ServerIsNewer) Outcome() string { return "server_is_newer" }
func (LocalModified) Outcome() string { return "local_modified" }

func (NoConnection) isDecision()  {}
func (NoServerSave) isDecision()  {}
func (LocalIsNewer) isDecision()  {}
func (ServerIsNewer) isDecision() {}
func (LocalModified) isDecision() {}

// Choice is the user's answer to a hardcore mismatch.
type Choice string

const (
	// KeepHardcore discards the download and force-uploads the local save.
	KeepHardcore Choice = "keep-hardcore"
	// DowngradeToCasual applies the download and drops the hardcore flag.
	DowngradeToCasual Choice = "downgrade"
	// KeepLocal discards the download.
	KeepLocal Choice = "keep-local"
)

// ParseChoice parses a Choice.
func ParseChoice(s string) (Choice, error) {
	switch c := Choice(s); c {
	case KeepHardcore, DowngradeToCasual, KeepLocal:
		return c, nil
	}
	return "", &ConflictError{Message: "unknown hardcore resolution " + s}
}

// Errors
var (
	ErrUnknownChoice = &ConflictError{Message: "unknown hardcore resolution"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsConflictError checks if an error is a ConflictError.
func IsConflictError(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}
