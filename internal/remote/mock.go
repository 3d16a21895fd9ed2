package remote

import (
	"context"

	"jilt-connector/internal/model"
)

// Mock implements Service for testing.
// Each method can be configured via function fields; unset methods return
// a not-found error (or succeed, for updates and deletes).
type Mock struct {
	GetPublicKeyFunc func(ctx context.Context) (string, error)
	FindShopFunc     func(ctx context.Context, domain string) (*model.Shop, error)
	CreateShopFunc   func(ctx context.Context, data *model.ShopData) (*model.Shop, error)
	UpdateShopFunc   func(ctx context.Context, id model.RemoteID, data *model.ShopData) (*model.Shop, error)
	DeleteShopFunc   func(ctx context.Context, id model.RemoteID) error
	GetOrderFunc     func(ctx context.Context, id model.RemoteID) (*model.RemoteOrder, error)
	CreateOrderFunc  func(ctx context.Context, shopID model.RemoteID, payload *model.OrderPayload) (*model.RemoteOrder, error)
	UpdateOrderFunc  func(ctx context.Context, id model.RemoteID, payload *model.OrderPayload) (*model.RemoteOrder, error)
	DeleteOrderFunc  func(ctx context.Context, id model.RemoteID) error
}

var _ Service = (*Mock)(nil)

func (m *Mock) GetPublicKey(ctx context.Context) (string, error) {
	if m.GetPublicKeyFunc != nil {
		return m.GetPublicKeyFunc(ctx)
	}
	return "", model.NewRemoteError(404, "")
}

func (m *Mock) FindShop(ctx context.Context, domain string) (*model.Shop, error) {
	if m.FindShopFunc != nil {
		return m.FindShopFunc(ctx, domain)
	}
	return nil, nil
}

func (m *Mock) CreateShop(ctx context.Context, data *model.ShopData) (*model.Shop, error) {
	if m.CreateShopFunc != nil {
		return m.CreateShopFunc(ctx, data)
	}
	return nil, model.NewRemoteError(404, "")
}

func (m *Mock) UpdateShop(ctx context.Context, id model.RemoteID, data *model.ShopData) (*model.Shop, error) {
	if m.UpdateShopFunc != nil {
		return m.UpdateShopFunc(ctx, id, data)
	}
	return &model.Shop{ID: id, Domain: data.Domain}, nil
}

func (m *Mock) DeleteShop(ctx context.Context, id model.RemoteID) error {
	if m.DeleteShopFunc != nil {
		return m.DeleteShopFunc(ctx, id)
	}
	return nil
}

func (m *Mock) GetOrder(ctx context.Context, id model.RemoteID) (*model.RemoteOrder, error) {
	if m.GetOrderFunc != nil {
		return m.GetOrderFunc(ctx, id)
	}
	return nil, model.NewRemoteError(404, "")
}

func (m *Mock) CreateOrder(ctx context.Context, shopID model.RemoteID, payload *model.OrderPayload) (*model.RemoteOrder, error) {
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, shopID, payload)
	}
	return nil, model.NewRemoteError(404, "")
}

func (m *Mock) UpdateOrder(ctx context.Context, id model.RemoteID, payload *model.OrderPayload) (*model.RemoteOrder, error) {
	if m.UpdateOrderFunc != nil {
		return m.UpdateOrderFunc(ctx, id, payload)
	}
	return &model.RemoteOrder{ID: id}, nil
}

func (m *Mock) DeleteOrder(ctx context.Context, id model.RemoteID) error {
	if m.DeleteOrderFunc != nil {
		return m.DeleteOrderFunc(ctx, id)
	}
	return nil
}
