package onaybackend_test

import (
	"testing"

	"github.com/onay-qr/onay-gateway/internal/adapters/contracttest"
	"github.com/onay-qr/onay-gateway/internal/adapters/memory/onaybackend"
	onayport "github.com/onay-qr/onay-gateway/internal/ports/out/onay"
)

func seeded() *onaybackend.Backend {
	b := onaybackend.NewBackend()
	b.SetCards(contracttest.SeedPAN)
	route := contracttest.SeedRoute
	b.AddTerminal(contracttest.SeedTerminal, &onayport.TerminalRecord{Route: &route})
	return b
}

func TestContract_MemoryBackend(t *testing.T) {
	t.Parallel()

	contracttest.RunBackend(t, func(t *testing.T) (onayport.Backend, func()) {
		t.Helper()
		return seeded(), nil
	})
}
