package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonConfigInvalid ReasonCode = "config_invalid"

	ReasonTTSConnect     ReasonCode = "tts_connect"
	ReasonTTSStatus      ReasonCode = "tts_status"
	ReasonTTSEmptyAudio  ReasonCode = "tts_empty_audio"
	ReasonTTSRateLimit   ReasonCode = "tts_rate_limit"
	ReasonTTSCircuitOpen ReasonCode = "tts_circuit_open"

	ReasonCaptionedDecode ReasonCode = "captioned_decode"
	ReasonCaptionedEmpty  ReasonCode = "captioned_unusable"

	ReasonTransportUpgrade ReasonCode = "transport_upgrade"
	ReasonTransportSend    ReasonCode = "transport_send"
	ReasonTransportDecode  ReasonCode = "transport_decode"
)
