package protocol

// AudioAppend streams one base64-encoded PCM frame of captured audio.
type AudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// AudioClear discards buffered, uncommitted input audio on the gateway.
type AudioClear struct {
	Type string `json:"type"`
}

// ItemCreate inserts a conversation item. It carries both normal turns
// and replayed history after a reconnect.
type ItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

// ConversationItem is a single message turn.
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is one block of item content.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponseCreate asks the model to respond now.
type ResponseCreate struct {
	Type string `json:"type"`
}

func NewAudioAppend(audio string) AudioAppend {
	return AudioAppend{Type: "input_audio_buffer.append", Audio: audio}
}

func NewAudioClear() AudioClear {
	return AudioClear{Type: "input_audio_buffer.clear"}
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: "response.create"}
}

// NewMessageItem builds a conversation turn for the given role. User
// and system turns carry input_text content; assistant turns carry
// text content.
func NewMessageItem(role, text string) ItemCreate {
	contentType := "input_text"
	if role == "assistant" {
		contentType = "text"
	}
	return ItemCreate{
		Type: "conversation.item.create",
		Item: ConversationItem{
			Type:    "message",
			Role:    role,
			Content: []ContentPart{{Type: contentType, Text: text}},
		},
	}
}
