package frames

// Metadata keys carried on frames.
const (
	MetaStreamID      = "stream_id"
	MetaSessionID     = "session_id"
	MetaTraceID       = "trace_id"
	MetaSource        = "source"
	MetaReason        = "reason"
	MetaLanguage      = "language"
	MetaSequenceID    = "sequence_id"
	MetaSynthesisPath = "synthesis_path"
	MetaNormalized    = "normalized"
)
