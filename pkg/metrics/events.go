package metrics

// Event names emitted by the synthesis client, processors and pipeline.
const (
	EventSynthesisNativeOK = "synthesis_native_ok"
	EventSynthesisFallback = "synthesis_fallback"
	EventSynthesisLatency  = "synthesis_latency_ms"
	EventSynthesisFailed   = "synthesis_failed"

	EventTimingEmitted = "timing_emitted"
	EventTextFallback  = "text_fallback"

	EventRateLimit     = "rate_limit"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventBreakerDenied = "breaker_denied"

	EventFrameIn      = "frame_in"
	EventFrameOut     = "frame_out"
	EventFrameDrop    = "frame_drop"
	EventStageLatency = "stage_latency_us"
	EventSessionStart = "session_start"
	EventSessionEnd   = "session_end"
)
