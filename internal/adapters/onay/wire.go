package onay

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Wire schemas of the ticketing backend. Every reply is wrapped as
// {"success": bool, "result": {"data": ...}}.

type envelope[T any] struct {
	Success *bool `json:"success"`
	Result  struct {
		Data T `json:"data"`
	} `json:"result"`
}

type signInPayload struct {
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
	DeviceOS    int    `json:"deviceOs"`
	PushToken   string `json:"pushToken"`
}

type signInData struct {
	Token      string `json:"token"`
	ShortToken string `json:"shortToken"`
	D          string `json:"d"`
}

type cardData struct {
	PAN flexString `json:"pan"`
}

type qrStartPayload struct {
	Terminal string `json:"terminal"`
	PAN      string `json:"pan"`
}

type qrStartData struct {
	Terminal json.RawMessage `json:"terminal"`
}

type terminalData struct {
	Route     *flexString     `json:"route"`
	Conductor *flexString     `json:"conductor"`
	Cost      json.RawMessage `json:"cost"`
	Code      *flexString     `json:"code"`
	Terminal  *flexString     `json:"terminal"`
}

// flexString accepts a JSON string or number. The backend is not consistent about
// which one it sends for identifiers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

func (f *flexString) ptr() *string {
	if f == nil {
		return nil
	}
	s := string(*f)
	return &s
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
