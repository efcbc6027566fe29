package domain

import "encoding/json"

// TokenBundle is the short-lived session credential issued by the ticketing backend.
//
// A bundle is either fully populated or absent; callers hold it by value and the
// session service replaces it wholesale on every successful sign-in.
type TokenBundle struct {
	Token      string
	ShortToken string
	DeviceID   string
}

// Complete reports whether every field of the bundle is populated.
func (b TokenBundle) Complete() bool {
	return b.Token != "" && b.ShortToken != "" && b.DeviceID != ""
}

// Trip is the normalized result of a ticketing-start call.
type Trip struct {
	Route *string
	Plate *string
	// Cost is in minor currency units (tiyn).
	Cost *int64

	TerminalCode TerminalCode
	PaymentID    PaymentID

	// RawTerminal is only retained when verbose diagnostics are enabled.
	RawTerminal json.RawMessage
}
