package dispatch

import (
	"encoding/json"
	"fmt"

	"vkbridge/pkg/vk"
)

// seedMultiplier spreads the per-request seed so that the same (seed,
// recipient) pair always yields the same deduplication id.
const seedMultiplier = 228

// SendRequest is one outbound delivery order consumed from the bot-message
// queue.
type SendRequest struct {
	Seed    int64       `json:"seed"`
	VKIDs   []int64     `json:"vkIds"`
	Message MessageSpec `json:"message"`
}

// MessageSpec carries the text and optional keyboard of a delivery.
type MessageSpec struct {
	Text     string        `json:"text"`
	Keyboard *KeyboardSpec `json:"keyboard,omitempty"`
}

// KeyboardSpec is the broker-side keyboard description. Rows map one-to-one
// onto rendered keyboard rows.
type KeyboardSpec struct {
	Inline  bool           `json:"inline"`
	OneTime bool           `json:"oneTime"`
	Rows    [][]ButtonSpec `json:"rows"`
}

// ButtonSpec describes one button. Type selects the rendering: "text" stays
// a text button, "open_link" becomes a callback button carrying the link in
// its payload, anything else is a plain callback button.
type ButtonSpec struct {
	Type    string `json:"type"`
	Label   string `json:"label"`
	Payload string `json:"payload,omitempty"`
	Color   string `json:"color,omitempty"`
	Link    string `json:"link,omitempty"`
}

// DeliveryReport is published to the status exchange after every processed
// request, successful or not.
type DeliveryReport struct {
	Time    string     `json:"time"`
	Seed    int64      `json:"seed"`
	VKUsers UserReport `json:"vk_users"`
}

// UserReport splits recipients by delivery outcome.
type UserReport struct {
	Success []int64 `json:"success"`
	Failure []int64 `json:"failure"`
}

// recipientID computes the stable deduplication id for one recipient of one
// request.
func recipientID(seed, userID int64) int64 {
	return seed*seedMultiplier + userID
}

// buildKeyboard renders a KeyboardSpec into the platform keyboard format.
// Rows after the first are preceded by a separator, so n rows produce n-1
// separators.
func buildKeyboard(spec *KeyboardSpec) (*vk.Keyboard, error) {
	if spec == nil {
		return nil, nil
	}

	keyboard := vk.NewKeyboard(spec.OneTime, spec.Inline)
	for i, row := range spec.Rows {
		if i > 0 {
			keyboard.AddRow()
		}
		for _, button := range row {
			if err := addButton(keyboard, button); err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
		}
	}
	return keyboard, nil
}

func addButton(keyboard *vk.Keyboard, button ButtonSpec) error {
	switch button.Type {
	case "text":
		keyboard.AddTextButton(button.Label, button.Payload, button.Color)
	case "open_link":
		payload, err := json.Marshal(map[string]string{
			"type": "open_link",
			"link": button.Link,
		})
		if err != nil {
			return fmt.Errorf("button %q: encode link payload: %w", button.Label, err)
		}
		keyboard.AddCallbackButton(button.Label, string(payload), button.Color)
	default:
		keyboard.AddCallbackButton(button.Label, button.Payload, button.Color)
	}
	return nil
}
