package payments

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type stubGateway struct {
	mu    sync.Mutex
	calls []PushRequest
	err   error
}

func (g *stubGateway) RequestPush(_ context.Context, req PushRequest) (PushAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return PushAck{}, g.err
	}
	return PushAck{CheckoutRequestID: "ws_CO_" + uuid.NewString(), MerchantRequestID: "m-1"}, nil
}

func (g *stubGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
