package generation

// Kind tells the renderer how to present an event.
type Kind string

const (
	KindText  Kind = "text"
	KindJSON  Kind = "json"
	KindFile  Kind = "file"
	KindImage Kind = "image"
)

// Outcome classifies the terminal event of a tool invocation.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeNoResult  Outcome = "no_result"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeError     Outcome = "error"
	OutcomeRejected  Outcome = "rejected"
)

// IsError reports whether the outcome should be surfaced as a tool error.
func (o Outcome) IsError() bool {
	return o == OutcomeFailed || o == OutcomeError || o == OutcomeRejected
}

// Event is one message of a tool's output sequence.
//
// Text events carry Text. JSON events carry Data and, for a failed task, a
// Text summary as well. File events carry Blob, Filename and MIMEType. Image
// events carry URL. Outcome is set on the last event of a sequence only.
type Event struct {
	Kind     Kind
	Text     string
	Data     any
	Blob     []byte
	Filename string
	MIMEType string
	URL      string
	Outcome  Outcome
}

// Terminal reports whether e ends its sequence.
func (e Event) Terminal() bool {
	return e.Outcome != ""
}

func textEvent(text string) Event {
	return Event{Kind: KindText, Text: text}
}

func jsonEvent(data any) Event {
	return Event{Kind: KindJSON, Data: data}
}

func fileEvent(data []byte, filename, mimeType string) Event {
	return Event{Kind: KindFile, Blob: data, Filename: filename, MIMEType: mimeType}
}

func imageEvent(url string) Event {
	return Event{Kind: KindImage, URL: url}
}

func (e Event) ending(outcome Outcome) Event {
	e.Outcome = outcome
	return e
}
