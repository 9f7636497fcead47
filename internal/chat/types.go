package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author of a dialogue turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentBlock is one typed fragment of a multimodal turn body, serialized in
// the chat-completions wire shape.
type ContentBlock struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

const (
	BlockTypeText  = "text"
	BlockTypeImage = "image_url"
)

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

func ImageBlock(url string) ContentBlock {
	return ContentBlock{Type: BlockTypeImage, ImageURL: &ImageURL{URL: url}}
}

// Content is either plain text or an ordered block sequence. Exactly one of
// the two forms is populated; Blocks wins when both are set.
type Content struct {
	Text   string
	Blocks []ContentBlock
}

// Turn is one immutable message in a dialogue.
type Turn struct {
	Role    Role
	Content Content
}

func SystemTurn(text string) Turn {
	return Turn{Role: RoleSystem, Content: Content{Text: text}}
}

func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Content: Content{Text: text}}
}

func AssistantTurn(text string) Turn {
	return Turn{Role: RoleAssistant, Content: Content{Text: text}}
}

func UserBlocksTurn(blocks ...ContentBlock) Turn {
	return Turn{Role: RoleUser, Content: Content{Blocks: blocks}}
}

// Flatten returns the textual portion of the content, joining text blocks
// with spaces. Image blocks contribute nothing.
func (c Content) Flatten() string {
	if len(c.Blocks) == 0 {
		return c.Text
	}
	parts := make([]string, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		if b.Type == BlockTypeText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, " ")
}

type turnWire struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

// MarshalJSON emits the polymorphic content field the upstream API expects:
// a bare string for text-only turns, a block array for multimodal ones.
func (t Turn) MarshalJSON() ([]byte, error) {
	var content any
	if len(t.Content.Blocks) > 0 {
		content = t.Content.Blocks
	} else {
		content = t.Content.Text
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(turnWire{Role: t.Role, Content: raw})
}

func (t *Turn) UnmarshalJSON(data []byte) error {
	var wire turnWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	t.Role = wire.Role
	t.Content = Content{}
	if len(wire.Content) == 0 {
		return nil
	}

	var text string
	if err := json.Unmarshal(wire.Content, &text); err == nil {
		t.Content.Text = text
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(wire.Content, &blocks); err != nil {
		return fmt.Errorf("turn content is neither string nor block list: %w", err)
	}
	t.Content.Blocks = blocks
	return nil
}
