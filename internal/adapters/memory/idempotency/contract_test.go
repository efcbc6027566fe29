package idempotency

import (
	"testing"

	"github.com/onay-qr/onay-gateway/internal/adapters/contracttest"
	idempotencyport "github.com/onay-qr/onay-gateway/internal/ports/out/idempotency"
)

func TestContract_MemoryIdempotencyStore(t *testing.T) {
	t.Parallel()

	contracttest.RunIdempotencyStore(t, func(t *testing.T) (idempotencyport.Store, func()) {
		t.Helper()
		return NewStore(), nil
	})
}
