package domain

// TerminalCode is the short code a rider enters to designate a ticketing device/vehicle.
type TerminalCode string

// PaymentID is an opaque reference to a linked payment instrument (the backend calls it "pan").
// It is never a full card number, but it is still treated as sensitive in logs.
type PaymentID string
