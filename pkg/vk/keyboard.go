package vk

import (
	"encoding/json"
	"strings"
)

// Keyboard button colors known to VK.
const (
	ColorPrimary   = "primary"
	ColorSecondary = "secondary"
	ColorNegative  = "negative"
	ColorPositive  = "positive"
)

type buttonAction struct {
	Type    string `json:"type"`
	Label   string `json:"label,omitempty"`
	Payload string `json:"payload,omitempty"`
}

type keyboardButton struct {
	Action buttonAction `json:"action"`
	Color  string       `json:"color,omitempty"`
}

// Keyboard builds a platform-native keyboard row by row. Buttons append to
// the current row; AddRow closes it. Marshalling never emits a trailing
// empty row.
type Keyboard struct {
	oneTime bool
	inline  bool
	rows    [][]keyboardButton
	current []keyboardButton
}

// NewKeyboard constructs an empty keyboard with the given mode flags.
func NewKeyboard(oneTime, inline bool) *Keyboard {
	return &Keyboard{oneTime: oneTime, inline: inline}
}

// AddTextButton appends a plain text button to the current row. The payload
// travels verbatim.
func (k *Keyboard) AddTextButton(label, payload, color string) {
	k.current = append(k.current, keyboardButton{
		Action: buttonAction{Type: "text", Label: label, Payload: payload},
		Color:  normalizeColor(color),
	})
}

// AddCallbackButton appends a callback button to the current row.
func (k *Keyboard) AddCallbackButton(label, payload, color string) {
	k.current = append(k.current, keyboardButton{
		Action: buttonAction{Type: "callback", Label: label, Payload: payload},
		Color:  normalizeColor(color),
	})
}

// AddRow closes the current row. Calling it after the final row is a no-op
// at marshal time: an open empty row is never serialized.
func (k *Keyboard) AddRow() {
	k.rows = append(k.rows, k.current)
	k.current = nil
}

// RowCount returns the number of non-empty button rows built so far.
func (k *Keyboard) RowCount() int {
	count := 0
	for _, row := range k.rows {
		if len(row) > 0 {
			count++
		}
	}
	if len(k.current) > 0 {
		count++
	}
	return count
}

// MarshalJSON emits the VK wire shape:
// {"one_time":...,"inline":...,"buttons":[[{"action":{...},"color":...}]]}.
func (k *Keyboard) MarshalJSON() ([]byte, error) {
	buttons := make([][]keyboardButton, 0, len(k.rows)+1)
	for _, row := range k.rows {
		if len(row) > 0 {
			buttons = append(buttons, row)
		}
	}
	if len(k.current) > 0 {
		buttons = append(buttons, k.current)
	}

	return json.Marshal(struct {
		OneTime bool               `json:"one_time"`
		Inline  bool               `json:"inline"`
		Buttons [][]keyboardButton `json:"buttons"`
	}{
		OneTime: k.oneTime,
		Inline:  k.inline,
		Buttons: buttons,
	})
}

func normalizeColor(color string) string {
	return strings.ToLower(strings.TrimSpace(color))
}
