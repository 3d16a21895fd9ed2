package model

import "context"

// PayloadTransform mutates an outgoing payload before it is sent to the
// remote service. Transforms run in registration order on every create and
// update call for both carts and orders. Kind is "cart" or "order".
type PayloadTransform func(ctx context.Context, kind string, payload *OrderPayload)

// Payload kinds passed to transforms.
const (
	KindCart  = "cart"
	KindOrder = "order"
)

// ApplyTransforms runs each transform against payload in order.
func ApplyTransforms(ctx context.Context, transforms []PayloadTransform, kind string, payload *OrderPayload) {
	for _, fn := range transforms {
		if fn != nil {
			fn(ctx, kind, payload)
		}
	}
}
