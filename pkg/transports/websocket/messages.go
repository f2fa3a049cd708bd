package websocket

// Inbound message types.
const (
	TypeText      = "text"
	TypeInterrupt = "interrupt"
)

// Outbound message types. Timing events use timing.EventType.
const (
	TypeBotText = "bot-text"
	TypeControl = "control"
)

type inboundMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
}

type botTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type controlMessage struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}
