package chat

import (
	"fmt"

	"github.com/notepid/twilight_chat/internal/presence"
)

// ValidationError rejects a composition before anything is written. It is
// the only error the composer sees.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// TransportError is a presence or feed channel failure.
type TransportError = presence.TransportError

// EnrichmentFailure records a failed message or profile lookup. The message
// is shown with placeholder sender metadata instead.
type EnrichmentFailure struct {
	MessageID     string
	ParticipantID int
	Err           error
}

func (e *EnrichmentFailure) Error() string {
	if e.MessageID != "" {
		return fmt.Sprintf("enrich message %s: %v", e.MessageID, e.Err)
	}
	return fmt.Sprintf("enrich participant %d: %v", e.ParticipantID, e.Err)
}

func (e *EnrichmentFailure) Unwrap() error { return e.Err }

// ReceiptWriteFailure records a failed mark-read write. The pair is retried
// on the next render.
type ReceiptWriteFailure struct {
	MessageID     string
	ParticipantID int
	Err           error
}

func (e *ReceiptWriteFailure) Error() string {
	return fmt.Sprintf("mark read %s by %d: %v", e.MessageID, e.ParticipantID, e.Err)
}

func (e *ReceiptWriteFailure) Unwrap() error { return e.Err }
