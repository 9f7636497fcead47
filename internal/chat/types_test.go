package chat

import (
	"encoding/json"
	"testing"
)

func TestTurnMarshalPlainText(t *testing.T) {
	raw, err := json.Marshal(UserTurn("hello"))
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	want := `{"role":"user","content":"hello"}`
	if string(raw) != want {
		t.Fatalf("Marshal = %s, want %s", raw, want)
	}
}

func TestTurnMarshalBlocks(t *testing.T) {
	turn := UserBlocksTurn(
		TextBlock("what is this"),
		ImageBlock("https://img.example/x.jpg"),
	)
	raw, err := json.Marshal(turn)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}

	var decoded Turn
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if len(decoded.Content.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(decoded.Content.Blocks))
	}
	if decoded.Content.Blocks[0].Type != BlockTypeText || decoded.Content.Blocks[0].Text != "what is this" {
		t.Fatalf("first block = %+v, want text block", decoded.Content.Blocks[0])
	}
	if decoded.Content.Blocks[1].Type != BlockTypeImage || decoded.Content.Blocks[1].ImageURL.URL != "https://img.example/x.jpg" {
		t.Fatalf("second block = %+v, want image block", decoded.Content.Blocks[1])
	}
}

func TestTurnUnmarshalStringContent(t *testing.T) {
	var turn Turn
	if err := json.Unmarshal([]byte(`{"role":"assistant","content":"hi"}`), &turn); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if turn.Role != RoleAssistant || turn.Content.Text != "hi" {
		t.Fatalf("turn = %+v, want assistant/hi", turn)
	}
	if len(turn.Content.Blocks) != 0 {
		t.Fatalf("blocks = %v, want none for string content", turn.Content.Blocks)
	}
}

func TestTurnUnmarshalRejectsBadContent(t *testing.T) {
	var turn Turn
	if err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &turn); err == nil {
		t.Fatalf("Unmarshal of numeric content succeeded, want error")
	}
}

func TestFlatten(t *testing.T) {
	if got := UserTurn("plain").Content.Flatten(); got != "plain" {
		t.Fatalf("Flatten = %q, want %q", got, "plain")
	}

	turn := UserBlocksTurn(
		TextBlock("a"),
		ImageBlock("https://img.example/x.jpg"),
		TextBlock("b"),
	)
	if got := turn.Content.Flatten(); got != "a b" {
		t.Fatalf("Flatten = %q, want %q", got, "a b")
	}
}
