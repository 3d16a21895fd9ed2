// Package integration owns the link between this store and the remote
// recovery service: shop registration, enable/disable state, merchant
// settings and the secret-key stash. All state lives in an OptionStore.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"jilt-connector/internal/model"
	"jilt-connector/internal/platform"
	"jilt-connector/internal/remote"
)

// Option names.
const (
	OptionShopID         = "wc_jilt_shop_id"
	OptionPublicKey      = "wc_jilt_public_key"
	OptionShopDomain     = "wc_jilt_shop_domain"
	OptionDisabled       = "wc_jilt_disabled"
	OptionSecretKeyStash = "wc_jilt_secret_key_stash"
	OptionSettings       = "woocommerce_jilt_settings"
	OptionVersion        = "wc_jilt_version"
	OptionEnableCoupons  = "woocommerce_enable_coupons"
)

// Setting keys.
const (
	SettingSecretKey         = "secret_key"
	SettingRecoverHeldOrders = "recover_held_orders"
	SettingLogLevel          = "log_level"
)

const domainTakenMessage = "Domain has already been taken"

// Config holds the static facts the service needs about this store.
type Config struct {
	// SecretKey is the startup API secret. A secret_key setting overrides
	// it; every signer, verifier and API call reads the key through
	// Service.SecretKey.
	SecretKey string
	// ShopDomain is the live domain this process serves.
	ShopDomain string
	// PluginVersion is reported as the integration version.
	PluginVersion string
	// Shop carries the remaining shop metadata pushed to the remote.
	Shop model.ShopData
}

// Owner identifies the merchant linking the shop.
type Owner struct {
	Name  string
	Email string
}

// Service manages the shop link.
type Service struct {
	options platform.OptionStore
	remote  remote.Service
	cfg     Config
	logger  *slog.Logger
}

// New creates a Service.
func New(options platform.OptionStore, svc remote.Service, cfg Config, logger *slog.Logger) *Service {
	return &Service{options: options, remote: svc, cfg: cfg, logger: logger}
}

// SecretKey returns the configured secret key, or "" when not configured.
func (s *Service) SecretKey(ctx context.Context) string {
	settings, err := s.Settings(ctx)
	if err == nil && settings[SettingSecretKey] != "" {
		return settings[SettingSecretKey]
	}
	return s.cfg.SecretKey
}

// IsConfigured reports whether a secret key is available.
func (s *Service) IsConfigured(ctx context.Context) bool {
	return s.SecretKey(ctx) != ""
}

// ShopID returns the linked remote shop id, or 0.
func (s *Service) ShopID(ctx context.Context) model.RemoteID {
	raw, err := s.options.GetOption(ctx, OptionShopID)
	if err != nil {
		return 0
	}
	id, _ := strconv.ParseInt(raw, 10, 64)
	return model.RemoteID(id)
}

// IsLinked reports whether a remote shop id is recorded.
func (s *Service) IsLinked(ctx context.Context) bool {
	return s.ShopID(ctx) != 0
}

// IsDuplicateSite reports whether the stored shop domain differs from the
// live one. Any mismatch counts, including a legitimate domain move.
func (s *Service) IsDuplicateSite(ctx context.Context) bool {
	stored, err := s.options.GetOption(ctx, OptionShopDomain)
	if err != nil {
		return false
	}
	return stored != "" && stored != s.cfg.ShopDomain
}

// IsDisabled reports whether sync is switched off, either explicitly or
// because this looks like a copied site.
func (s *Service) IsDisabled(ctx context.Context) bool {
	v, _ := s.options.GetOption(ctx, OptionDisabled)
	return v == "yes" || s.IsDuplicateSite(ctx)
}

// IsActive reports whether carts and orders should be synced.
func (s *Service) IsActive(ctx context.Context) bool {
	return s.IsConfigured(ctx) && s.IsLinked(ctx) && !s.IsDisabled(ctx)
}

// Enable switches sync on.
func (s *Service) Enable(ctx context.Context) error {
	return s.options.SetOption(ctx, OptionDisabled, "no")
}

// Disable switches sync off.
func (s *Service) Disable(ctx context.Context) error {
	return s.options.SetOption(ctx, OptionDisabled, "yes")
}

// RecoverHeldOrders reports whether on-hold orders stay recoverable
// instead of counting as placed.
func (s *Service) RecoverHeldOrders(ctx context.Context) bool {
	settings, err := s.Settings(ctx)
	if err != nil {
		return false
	}
	return settings[SettingRecoverHeldOrders] == "yes"
}

// Settings returns the stored merchant settings.
func (s *Service) Settings(ctx context.Context) (map[string]string, error) {
	raw, err := s.options.GetOption(ctx, OptionSettings)
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	settings := defaultSettings()
	if raw == "" {
		return settings, nil
	}
	var stored map[string]string
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	for k, v := range stored {
		settings[k] = v
	}
	return settings, nil
}

// SafeSettings returns the settings without the secret key.
func (s *Service) SafeSettings(ctx context.Context) (map[string]string, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	delete(settings, SettingSecretKey)
	return settings, nil
}

// SaveSettings replaces the stored settings.
func (s *Service) SaveSettings(ctx context.Context, settings map[string]string) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return s.options.SetOption(ctx, OptionSettings, string(data))
}

// UpdateSettings merges data into the settings. Only keys that already
// exist and are not sensitive are taken. A "yes"/"no"
// woocommerce_enable_coupons value toggles store coupons and is echoed back.
func (s *Service) UpdateSettings(ctx context.Context, data map[string]string) (map[string]string, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	for k, v := range data {
		if k == SettingSecretKey {
			continue
		}
		if _, known := settings[k]; known {
			settings[k] = v
		}
	}
	if err := s.SaveSettings(ctx, settings); err != nil {
		return nil, err
	}
	delete(settings, SettingSecretKey)

	if v := data[OptionEnableCoupons]; v == "yes" || v == "no" {
		if err := s.options.SetOption(ctx, OptionEnableCoupons, v); err != nil {
			return nil, fmt.Errorf("saving coupon setting: %w", err)
		}
		settings[OptionEnableCoupons] = v
	}
	return settings, nil
}

func defaultSettings() map[string]string {
	return map[string]string{
		SettingSecretKey:         "",
		SettingRecoverHeldOrders: "no",
		SettingLogLevel:          "400",
	}
}

// ShopData returns the shop metadata pushed to the remote service.
func (s *Service) ShopData(ctx context.Context) *model.ShopData {
	data := s.cfg.Shop
	data.Domain = s.cfg.ShopDomain
	data.ProfileType = "woocommerce"
	data.IntegrationVersion = s.cfg.PluginVersion
	coupons, _ := s.options.GetOption(ctx, OptionEnableCoupons)
	data.CouponsEnabled = coupons != "no"
	data.IntegrationEnabled = s.IsLinked(ctx) && !s.IsDisabled(ctx)
	return &data
}

// LinkShop registers the shop with the remote service and records the
// returned id. When the domain is already registered under this account the
// existing shop is found and updated instead.
func (s *Service) LinkShop(ctx context.Context, owner Owner) (model.RemoteID, error) {
	if !s.IsConfigured(ctx) {
		return 0, model.NewNotConfiguredError("secret key is not set")
	}
	if s.IsDuplicateSite(ctx) {
		return 0, model.NewNotConfiguredError("shop domain does not match the linked shop")
	}

	data := s.ShopData(ctx)
	data.ShopOwner = strings.TrimSpace(owner.Name)
	data.Email = owner.Email

	shop, err := s.remote.CreateShop(ctx, data)
	if err == nil {
		return shop.ID, s.recordLink(ctx, shop.ID)
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || !strings.Contains(apiErr.Message, domainTakenMessage) {
		return 0, fmt.Errorf("creating shop: %w", err)
	}
	s.logger.ErrorContext(ctx, "error communicating with jilt", slog.Any("error", err))

	shop, err = s.remote.FindShop(ctx, data.Domain)
	if err != nil {
		return 0, fmt.Errorf("finding shop %s: %w", data.Domain, err)
	}
	if shop == nil {
		return 0, model.NewNotFoundError("shop " + data.Domain)
	}

	if _, err := s.remote.UpdateShop(ctx, shop.ID, data); err != nil {
		s.logger.ErrorContext(ctx, "error communicating with jilt", slog.Any("error", err))
	}
	return shop.ID, s.recordLink(ctx, shop.ID)
}

func (s *Service) recordLink(ctx context.Context, id model.RemoteID) error {
	if err := s.options.SetOption(ctx, OptionShopDomain, s.cfg.ShopDomain); err != nil {
		return fmt.Errorf("saving shop domain: %w", err)
	}
	if err := s.options.SetOption(ctx, OptionShopID, id.String()); err != nil {
		return fmt.Errorf("saving shop id: %w", err)
	}
	return nil
}

// UnlinkShop deletes the remote shop. A duplicate site has no remote shop of
// its own, so nothing is sent. Remote failures are logged only.
func (s *Service) UnlinkShop(ctx context.Context) {
	if s.IsDuplicateSite(ctx) {
		return
	}
	if err := s.remote.DeleteShop(ctx, s.ShopID(ctx)); err != nil {
		s.logger.InfoContext(ctx, "error communicating with jilt", slog.Any("error", err))
	}
}

// UpdateShop pushes the current shop data. Remote failures are logged;
// account cancellation deactivates the integration.
func (s *Service) UpdateShop(ctx context.Context) {
	if !s.IsLinked(ctx) || s.IsDuplicateSite(ctx) {
		return
	}
	if _, err := s.remote.UpdateShop(ctx, s.ShopID(ctx), s.ShopData(ctx)); err != nil {
		s.logger.ErrorContext(ctx, "error communicating with jilt", slog.Any("error", err))
		if errors.Is(err, model.ErrAccountCancelled) {
			s.HandleAccountCancellation(ctx)
		}
	}
}

// PublicKey returns the stored public key, fetching it from the remote when
// refresh is set or none is stored.
func (s *Service) PublicKey(ctx context.Context, refresh bool) (string, error) {
	key, err := s.options.GetOption(ctx, OptionPublicKey)
	if err != nil {
		return "", fmt.Errorf("reading public key: %w", err)
	}
	if (!refresh && key != "") || !s.IsConfigured(ctx) {
		return key, nil
	}
	key, err = s.remote.GetPublicKey(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching public key: %w", err)
	}
	if err := s.options.SetOption(ctx, OptionPublicKey, key); err != nil {
		return "", fmt.Errorf("saving public key: %w", err)
	}
	return key, nil
}

// StashSecretKey appends the current secret key to the stash of keys that
// may have signed outstanding recovery links.
func (s *Service) StashSecretKey(ctx context.Context) error {
	stash, err := s.SecretKeyStash(ctx)
	if err != nil {
		return err
	}
	key := s.SecretKey(ctx)
	if key == "" {
		return nil
	}
	for _, k := range stash {
		if k == key {
			return nil
		}
	}
	data, err := json.Marshal(append(stash, key))
	if err != nil {
		return err
	}
	return s.options.SetOption(ctx, OptionSecretKeyStash, string(data))
}

// SetSecretKey stores key as the secret_key setting, which overrides the
// startup key. The key it replaces is stashed first.
func (s *Service) SetSecretKey(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("secret key must not be empty")
	}
	if err := s.StashSecretKey(ctx); err != nil {
		return fmt.Errorf("stashing secret key: %w", err)
	}
	settings, err := s.Settings(ctx)
	if err != nil {
		return err
	}
	settings[SettingSecretKey] = key
	return s.SaveSettings(ctx, settings)
}

// SecretKeyStash returns previously used secret keys, oldest first.
func (s *Service) SecretKeyStash(ctx context.Context) ([]string, error) {
	raw, err := s.options.GetOption(ctx, OptionSecretKeyStash)
	if err != nil {
		return nil, fmt.Errorf("reading key stash: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	var stash []string
	if err := json.Unmarshal([]byte(raw), &stash); err != nil {
		return nil, fmt.Errorf("decoding key stash: %w", err)
	}
	return stash, nil
}

// ClearConnection forgets the public key, shop id, shop domain and
// disabled flag.
func (s *Service) ClearConnection(ctx context.Context) error {
	for _, name := range []string{OptionPublicKey, OptionShopID, OptionShopDomain, OptionDisabled} {
		if err := s.options.SetOption(ctx, name, ""); err != nil {
			return fmt.Errorf("clearing %s: %w", name, err)
		}
	}
	return nil
}

// HandleAccountCancellation disables the integration after the remote
// reports the account is gone, and drops the link.
func (s *Service) HandleAccountCancellation(ctx context.Context) {
	s.logger.WarnContext(ctx, "jilt account cancelled, disabling integration")
	if err := s.Disable(ctx); err != nil {
		s.logger.ErrorContext(ctx, "failed to disable integration", slog.Any("error", err))
	}
	if err := s.options.SetOption(ctx, OptionShopID, ""); err != nil {
		s.logger.ErrorContext(ctx, "failed to clear shop id", slog.Any("error", err))
	}
}
