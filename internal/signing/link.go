package signing

import (
	"fmt"
	"net/url"
	"strings"

	"jilt-connector/internal/model"
)

// LinkBuilder builds recovery links pointing back at this store.
type LinkBuilder struct {
	HomeURL          string
	PrettyPermalinks bool
	Secret           string
}

// RecoveryURL returns the signed checkout-recovery link for a remote order.
// With pretty permalinks the endpoint is {home}/wc-api/jilt, otherwise the
// route is carried as ?wc-api=jilt.
func (b *LinkBuilder) RecoveryURL(orderID model.RemoteID, cartToken string) (string, error) {
	if b.Secret == "" {
		return "", fmt.Errorf("building recovery url: %w", model.ErrNotConfigured)
	}
	token, hash, err := EncodeToken(model.RecoveryToken{OrderID: orderID, CartToken: cartToken}, b.Secret)
	if err != nil {
		return "", err
	}

	home := strings.TrimSuffix(b.HomeURL, "/")
	q := url.Values{}
	if b.PrettyPermalinks {
		home += "/wc-api/jilt"
	} else {
		home += "/"
		q.Set(FieldRoute, "jilt")
	}
	q.Set("token", token)
	q.Set(FieldHash, hash)
	return home + "?" + q.Encode(), nil
}

// DecodeRecoveryToken verifies a recovery link's token and hash.
func DecodeRecoveryToken(token, hash, secret string) (*model.RecoveryToken, error) {
	var rt model.RecoveryToken
	if err := DecodeAndVerify(token, hash, secret, &rt); err != nil {
		return nil, err
	}
	return &rt, nil
}
