package integration

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/mod/semver"
)

type upgradeStep struct {
	before string
	run    func(ctx context.Context, s *Service) error
}

// Steps run in order for installs older than before.
var upgradeSteps = []upgradeStep{
	{before: "v1.1.0", run: upgradeTo110},
}

// Upgrade runs the upgrade steps that apply to the recorded installed
// version, then records the current plugin version. A fresh install has no
// recorded version and runs nothing.
func (s *Service) Upgrade(ctx context.Context) error {
	installed, err := s.options.GetOption(ctx, OptionVersion)
	if err != nil {
		return fmt.Errorf("reading installed version: %w", err)
	}
	current := canonical(s.cfg.PluginVersion)

	if installed != "" && semver.Compare(canonical(installed), current) < 0 {
		for _, step := range upgradeSteps {
			if semver.Compare(canonical(installed), step.before) >= 0 {
				continue
			}
			s.logger.InfoContext(ctx, "running upgrade step",
				slog.String("from", installed),
				slog.String("before", step.before),
			)
			if err := step.run(ctx, s); err != nil {
				return fmt.Errorf("upgrading from %s: %w", installed, err)
			}
		}
	}
	if installed == s.cfg.PluginVersion {
		return nil
	}
	return s.options.SetOption(ctx, OptionVersion, s.cfg.PluginVersion)
}

// upgradeTo110 records the shop domain and stashes the secret key of an
// already-linked shop.
func upgradeTo110(ctx context.Context, s *Service) error {
	if !s.IsLinked(ctx) {
		return nil
	}
	if err := s.options.SetOption(ctx, OptionShopDomain, s.cfg.ShopDomain); err != nil {
		return err
	}
	return s.StashSecretKey(ctx)
}

func canonical(v string) string {
	if v == "" {
		return ""
	}
	if v[0] != 'v' {
		v = "v" + v
	}
	return semver.Canonical(v)
}
