package timing

// EventType is the data-channel message type consumed by avatar clients.
const EventType = "bot-tts-timing"

// Event is the per-utterance timing message sent ahead of the audio.
// Words, WordTimes and WordDurations are parallel and always equal length.
type Event struct {
	Type          string    `json:"type"`
	SequenceID    int64     `json:"sequence_id"`
	Words         []string  `json:"words"`
	WordTimes     []float64 `json:"word_times"`
	WordDurations []float64 `json:"word_durations"`
	Text          string    `json:"text"`
}

// NewEvent flattens entries into the parallel slices of an Event.
func NewEvent(seq int64, text string, entries []Entry) Event {
	ev := Event{
		Type:          EventType,
		SequenceID:    seq,
		Words:         make([]string, 0, len(entries)),
		WordTimes:     make([]float64, 0, len(entries)),
		WordDurations: make([]float64, 0, len(entries)),
		Text:          text,
	}
	for _, e := range entries {
		ev.Words = append(ev.Words, e.Word)
		ev.WordTimes = append(ev.WordTimes, e.Start)
		ev.WordDurations = append(ev.WordDurations, e.Duration())
	}
	return ev
}

// Len returns the number of words in the event.
func (e Event) Len() int { return len(e.Words) }
