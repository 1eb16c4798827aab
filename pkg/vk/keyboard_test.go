package vk

import (
	"encoding/json"
	"testing"
)

type marshaledKeyboard struct {
	OneTime bool `json:"one_time"`
	Inline  bool `json:"inline"`
	Buttons [][]struct {
		Action struct {
			Type    string `json:"type"`
			Label   string `json:"label"`
			Payload string `json:"payload"`
		} `json:"action"`
		Color string `json:"color"`
	} `json:"buttons"`
}

func marshalKeyboard(t *testing.T, k *Keyboard) marshaledKeyboard {
	t.Helper()

	raw, err := json.Marshal(k)
	if err != nil {
		t.Fatalf("marshal keyboard: %v", err)
	}

	var decoded marshaledKeyboard
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal keyboard: %v", err)
	}

	return decoded
}

func TestKeyboardRowsPreserveOrder(t *testing.T) {
	k := NewKeyboard(true, false)
	k.AddCallbackButton("first", "p1", ColorSecondary)
	k.AddRow()
	k.AddTextButton("second", "p2", ColorPrimary)
	k.AddTextButton("third", "p3", ColorPrimary)

	decoded := marshalKeyboard(t, k)

	if !decoded.OneTime || decoded.Inline {
		t.Fatalf("flags = one_time:%v inline:%v, want true/false", decoded.OneTime, decoded.Inline)
	}
	if len(decoded.Buttons) != 2 {
		t.Fatalf("rows = %d, want 2", len(decoded.Buttons))
	}
	if decoded.Buttons[0][0].Action.Label != "first" {
		t.Fatalf("row 0 = %q, want %q", decoded.Buttons[0][0].Action.Label, "first")
	}
	if len(decoded.Buttons[1]) != 2 || decoded.Buttons[1][1].Action.Label != "third" {
		t.Fatalf("row 1 = %+v, want two buttons ending with third", decoded.Buttons[1])
	}
}

func TestKeyboardNoTrailingEmptyRow(t *testing.T) {
	k := NewKeyboard(false, true)
	k.AddTextButton("only", "p", ColorPositive)
	k.AddRow()

	decoded := marshalKeyboard(t, k)
	if len(decoded.Buttons) != 1 {
		t.Fatalf("rows = %d, want 1 (no trailing separator row)", len(decoded.Buttons))
	}
	if k.RowCount() != 1 {
		t.Fatalf("RowCount = %d, want 1", k.RowCount())
	}
}

func TestKeyboardButtonKindsAndColors(t *testing.T) {
	k := NewKeyboard(false, true)
	k.AddTextButton("t", "text-payload", "POSITIVE")
	k.AddCallbackButton("c", "cb-payload", " Negative ")

	decoded := marshalKeyboard(t, k)
	row := decoded.Buttons[0]

	if row[0].Action.Type != "text" || row[0].Action.Payload != "text-payload" {
		t.Fatalf("text button = %+v", row[0])
	}
	if row[0].Color != "positive" {
		t.Fatalf("text color = %q, want %q", row[0].Color, "positive")
	}
	if row[1].Action.Type != "callback" || row[1].Color != "negative" {
		t.Fatalf("callback button = %+v", row[1])
	}
}

func TestEmptyKeyboardMarshalsEmptyButtons(t *testing.T) {
	decoded := marshalKeyboard(t, NewKeyboard(false, false))
	if decoded.Buttons == nil || len(decoded.Buttons) != 0 {
		t.Fatalf("buttons = %v, want empty array", decoded.Buttons)
	}
}
