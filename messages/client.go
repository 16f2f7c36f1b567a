package messages

// ClientEvent is the subset of realtime client events the relay has to look into.
// Browser frames are otherwise forwarded without decoding.
type ClientEvent struct {
	Type  string            `json:"type"`
	Audio string            `json:"audio,omitempty"` // base64, input_audio_buffer.append
	Item  *ConversationItem `json:"item,omitempty"`  // conversation.item.create
}

// ConversationItem is a user message added to the conversation
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is one part of a conversation item
type ContentPart struct {
	Type string `json:"type"` // "input_text"
	Text string `json:"text,omitempty"`
}

// NewAudioAppend creates an input_audio_buffer.append event
func NewAudioAppend(payload string) *ClientEvent {
	return &ClientEvent{Type: TypeAudioAppend, Audio: payload}
}

// NewTextItem creates a conversation.item.create event holding user text
func NewTextItem(text string) *ClientEvent {
	return &ClientEvent{
		Type: TypeItemCreate,
		Item: &ConversationItem{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// Text returns the concatenated input_text parts of an item
func (i *ConversationItem) Text() string {
	if i == nil {
		return ""
	}
	var text string
	for _, part := range i.Content {
		if part.Type == "input_text" || part.Type == "text" {
			text += part.Text
		}
	}
	return text
}

// Twilio Media Streams events
const (
	TwilioConnected = "connected"
	TwilioStart     = "start"
	TwilioMedia     = "media"
	TwilioStop      = "stop"
	TwilioMark      = "mark"
	TwilioClear     = "clear"
)

// TwilioFrame is an inbound Twilio Media Streams message
type TwilioFrame struct {
	Event     string            `json:"event"`
	StreamSid string            `json:"streamSid,omitempty"`
	Start     *TwilioStartInfo  `json:"start,omitempty"`
	Media     *Media            `json:"media,omitempty"`
	Mark      *TwilioMarkDetail `json:"mark,omitempty"`
}

// TwilioStartInfo is sent once the call's media stream begins
type TwilioStartInfo struct {
	StreamSid string `json:"streamSid"`
	CallSid   string `json:"callSid,omitempty"`
}

// Media holds base64-encoded mu-law audio
type Media struct {
	Payload string `json:"payload"`
}

// TwilioMarkDetail names a playback marker
type TwilioMarkDetail struct {
	Name string `json:"name"`
}

// TwilioMessageBack is a media frame played to the caller
type TwilioMessageBack struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     Media  `json:"media"`
}

// TwilioControl is an outbound mark or clear message
type TwilioControl struct {
	Event     string            `json:"event"`
	StreamSid string            `json:"streamSid"`
	Mark      *TwilioMarkDetail `json:"mark,omitempty"`
}

func NewTwilioMessageBack(streamSid string, data string) *TwilioMessageBack {
	return &TwilioMessageBack{
		Event:     TwilioMedia,
		StreamSid: streamSid,
		Media:     Media{Payload: data},
	}
}

// NewTwilioMark asks Twilio to report when playback reaches this point
func NewTwilioMark(streamSid, name string) *TwilioControl {
	return &TwilioControl{Event: TwilioMark, StreamSid: streamSid, Mark: &TwilioMarkDetail{Name: name}}
}

// NewTwilioClear discards audio Twilio has buffered but not yet played
func NewTwilioClear(streamSid string) *TwilioControl {
	return &TwilioControl{Event: TwilioClear, StreamSid: streamSid}
}
