package message

// Event is a change-feed notification. The concrete types form a closed set:
// CreatedEnriched, CreatedRaw and Updated.
type Event interface {
	// Record returns the message carried by the event.
	Record() *Message
	isEvent()
}

// CreatedEnriched announces a new message whose payload already carries the
// sender's display metadata.
type CreatedEnriched struct{ Message *Message }

// CreatedRaw announces a new message without sender metadata. Consumers fetch
// the enriched record by id before merging.
type CreatedRaw struct{ Message *Message }

// Updated carries the latest state of an existing message (receipts grew or
// it was soft-deleted).
type Updated struct{ Message *Message }

func (e CreatedEnriched) Record() *Message { return e.Message }
func (e CreatedRaw) Record() *Message      { return e.Message }
func (e Updated) Record() *Message         { return e.Message }

func (CreatedEnriched) isEvent() {}
func (CreatedRaw) isEvent()      {}
func (Updated) isEvent()         {}

// NewCreated picks the created variant from whether m carries sender
// metadata.
func NewCreated(m *Message) Event {
	if m.Sender != nil && !m.Sender.Placeholder {
		return CreatedEnriched{Message: m}
	}
	return CreatedRaw{Message: m}
}
