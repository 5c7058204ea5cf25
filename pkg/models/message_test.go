package models

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestMessageTextConcatenation(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			NewTextBlock("first"),
			NewToolUseBlock("tu_1", "echo", map[string]any{"msg": "x"}),
			NewTextBlock("second"),
		},
	}
	if got := msg.Text(); got != "first\nsecond" {
		t.Errorf("Text() = %q, want %q", got, "first\nsecond")
	}
}

func TestMessageToolUses(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			NewTextBlock("calling"),
			NewToolUseBlock("tu_1", "search", map[string]any{"q": "a"}),
			NewToolUseBlock("tu_2", "read", map[string]any{"path": "b"}),
		},
	}
	uses := msg.ToolUses()
	if len(uses) != 2 {
		t.Fatalf("expected 2 tool uses, got %d", len(uses))
	}
	if uses[0].ID != "tu_1" || uses[1].ID != "tu_2" {
		t.Errorf("tool use order not preserved: %v", uses)
	}
	if !msg.HasToolUse() {
		t.Error("HasToolUse() = false, want true")
	}
}

func TestMessageJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "plain text",
			msg:  NewTextMessage(RoleUser, "hello"),
		},
		{
			name: "tool use with nested input",
			msg: Message{
				Role: RoleAssistant,
				Content: []ContentBlock{
					NewToolUseBlock("tu_1", "search", map[string]any{
						"query": "go",
						"limit": float64(3),
						"opts":  map[string]any{"deep": true},
					}),
				},
			},
		},
		{
			name: "tool result with error flag",
			msg: Message{
				Role:    RoleUser,
				Content: []ContentBlock{NewToolResultBlock("tu_1", "boom", true)},
			},
		},
		{
			name: "cache control survives",
			msg: Message{
				Role: RoleUser,
				Content: []ContentBlock{{
					Type:         BlockText,
					Text:         "cached",
					CacheControl: EphemeralCache(),
				}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var back Message
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !reflect.DeepEqual(tt.msg, back) {
				t.Errorf("round trip mismatch:\n  in:  %+v\n  out: %+v", tt.msg, back)
			}
		})
	}
}

func TestMessageUnmarshalStringContent(t *testing.T) {
	var msg Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"hi"}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(msg.Content) != 1 || msg.Content[0].Type != BlockText || msg.Content[0].Text != "hi" {
		t.Errorf("string content not lifted to text block: %+v", msg.Content)
	}
}

func TestContentBlockValidate(t *testing.T) {
	tests := []struct {
		name    string
		block   ContentBlock
		wantErr bool
	}{
		{"text ok", NewTextBlock("x"), false},
		{"tool use ok", NewToolUseBlock("id", "name", nil), false},
		{"tool use missing id", ContentBlock{Type: BlockToolUse, Name: "n"}, true},
		{"tool result missing ref", ContentBlock{Type: BlockToolResult}, true},
		{"unknown type", ContentBlock{Type: "bogus"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.block.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageCloneIsolation(t *testing.T) {
	orig := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			NewToolUseBlock("tu_1", "echo", map[string]any{"msg": "x"}),
		},
	}
	clone := orig.Clone()
	clone.Content[0].Input["msg"] = "mutated"
	if orig.Content[0].Input["msg"] != "x" {
		t.Error("clone shares input map with original")
	}
}
