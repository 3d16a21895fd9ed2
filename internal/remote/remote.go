// Package remote defines the typed surface of the recovery service API that
// the sync and recovery engines depend on.
package remote

import (
	"context"

	"jilt-connector/internal/model"
)

// Service is the remote cart/order API.
//
// Non-2xx responses are *model.APIError values carrying the remote status:
// 404 matches model.ErrNotFound and 410 matches model.ErrAccountCancelled.
// Transport failures match model.ErrNetwork.
type Service interface {
	// GetPublicKey returns the account's public key (GET /user).
	GetPublicKey(ctx context.Context) (string, error)

	// FindShop returns the first shop registered for domain, or nil.
	FindShop(ctx context.Context, domain string) (*model.Shop, error)

	// CreateShop registers this store.
	CreateShop(ctx context.Context, data *model.ShopData) (*model.Shop, error)

	// UpdateShop pushes shop data to an existing shop.
	UpdateShop(ctx context.Context, id model.RemoteID, data *model.ShopData) (*model.Shop, error)

	// DeleteShop removes the shop record.
	DeleteShop(ctx context.Context, id model.RemoteID) error

	// GetOrder fetches a remote cart/order.
	GetOrder(ctx context.Context, id model.RemoteID) (*model.RemoteOrder, error)

	// CreateOrder creates a remote cart under shopID. The returned record
	// carries the server-assigned id and cart token.
	CreateOrder(ctx context.Context, shopID model.RemoteID, payload *model.OrderPayload) (*model.RemoteOrder, error)

	// UpdateOrder sends the non-empty fields of payload.
	UpdateOrder(ctx context.Context, id model.RemoteID, payload *model.OrderPayload) (*model.RemoteOrder, error)

	// DeleteOrder removes a remote cart.
	DeleteOrder(ctx context.Context, id model.RemoteID) error
}
