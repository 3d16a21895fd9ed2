package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"jilt-connector/internal/config"
	"jilt-connector/internal/integration"
	"jilt-connector/internal/jilt"
	"jilt-connector/internal/model"
	"jilt-connector/internal/querystring"
	"jilt-connector/internal/signing"
	"jilt-connector/internal/store/postgres"
)

// session is a configured integration backed by Postgres options.
type session struct {
	cfg   *config.Config
	integ *integration.Service
	close func()
}

func openSession(ctx context.Context, logger *slog.Logger) (*session, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required to change the shop link")
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	var integ *integration.Service
	client, err := jilt.New(jilt.Config{
		BaseURL:    cfg.Jilt.APIBaseURL,
		KeySource:  func(ctx context.Context) string { return integ.SecretKey(ctx) },
		ShopDomain: cfg.Store.Domain,
		Timeout:    cfg.Jilt.Timeout,
		ChromeTLS:  cfg.Jilt.ChromeTLS,
		Logger:     logger,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating jilt client: %w", err)
	}

	integ = integration.New(postgres.NewOptionStore(pool), client, integration.Config{
		SecretKey:     cfg.Jilt.SecretKey,
		ShopDomain:    cfg.Store.Domain,
		PluginVersion: cfg.PluginVersion,
		Shop:          cfg.ShopData(),
	}, logger)

	return &session{cfg: cfg, integ: integ, close: pool.Close}, nil
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting to postgres: %w", err)
			}
			defer pool.Close()

			if err := postgres.Migrate(ctx, pool); err != nil {
				return err
			}
			opts.printResult(cmd, "migrations", "up to date")
			return nil
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the integration status and settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts.logger(cmd))
			if err != nil {
				return err
			}
			defer s.close()

			settings, err := s.integ.SafeSettings(ctx)
			if err != nil {
				return err
			}
			status := map[string]any{
				"configured":     s.integ.IsConfigured(ctx),
				"linked":         s.integ.IsLinked(ctx),
				"disabled":       s.integ.IsDisabled(ctx),
				"duplicate_site": s.integ.IsDuplicateSite(ctx),
				"active":         s.integ.IsActive(ctx),
				"shop_id":        s.integ.ShopID(ctx),
				"settings":       settings,
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		},
	}
}

func newLinkCommand(opts *rootOptions) *cobra.Command {
	var owner integration.Owner

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Register the store with Jilt, or re-link an existing shop for this domain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts.logger(cmd))
			if err != nil {
				return err
			}
			defer s.close()

			if owner.Name == "" {
				owner.Name = s.cfg.Store.OwnerName
			}
			if owner.Email == "" {
				owner.Email = s.cfg.Store.OwnerEmail
			}
			id, err := s.integ.LinkShop(ctx, owner)
			if err != nil {
				return err
			}
			opts.printResult(cmd, "shop_id", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner.Name, "owner-name", "", "shop owner's display name (default from config)")
	cmd.Flags().StringVar(&owner.Email, "owner-email", "", "shop owner's email (default from config)")
	return cmd
}

func newUnlinkCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink",
		Short: "Delete the shop from Jilt and forget the local link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts.logger(cmd))
			if err != nil {
				return err
			}
			defer s.close()

			s.integ.UnlinkShop(ctx)
			if err := s.integ.ClearConnection(ctx); err != nil {
				return err
			}
			opts.printResult(cmd, "linked", s.integ.IsLinked(ctx))
			return nil
		},
	}
}

func newPushShopCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push-shop",
		Short: "Send the current shop data to Jilt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts.logger(cmd))
			if err != nil {
				return err
			}
			defer s.close()

			if !s.integ.IsLinked(ctx) {
				return model.NewNotConfiguredError("Not linked")
			}
			s.integ.UpdateShop(ctx)
			opts.printResult(cmd, "pushed", s.integ.ShopID(ctx))
			return nil
		},
	}
}

func newRefreshKeyCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-key",
		Short: "Fetch and store the account's public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts.logger(cmd))
			if err != nil {
				return err
			}
			defer s.close()

			key, err := s.integ.PublicKey(ctx, true)
			if err != nil {
				return err
			}
			opts.printResult(cmd, "public_key", key)
			return nil
		},
	}
}

func newSetKeyCommand(opts *rootOptions) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Store a new Jilt secret key, stashing the current one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts.logger(cmd))
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.integ.SetSecretKey(ctx, key); err != nil {
				return err
			}
			opts.printResult(cmd, "secret_key", jilt.MaskToken(key))
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "new secret key")
	cmd.MarkFlagRequired("key")
	return cmd
}

func newRecoveryURLCommand(opts *rootOptions) *cobra.Command {
	var (
		orderID   int64
		cartToken string
	)

	cmd := &cobra.Command{
		Use:   "recovery-url",
		Short: "Build a signed recovery link for a remote order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts.logger(cmd))
			if err != nil {
				return err
			}
			defer s.close()

			links := signing.LinkBuilder{
				HomeURL:          s.cfg.Store.HomeURL,
				PrettyPermalinks: s.cfg.Store.PrettyPermalinks,
				Secret:           s.integ.SecretKey(ctx),
			}
			u, err := links.RecoveryURL(model.RemoteID(orderID), cartToken)
			if err != nil {
				return err
			}
			opts.printResult(cmd, "url", u)
			return nil
		},
	}

	cmd.Flags().Int64Var(&orderID, "order-id", 0, "remote order id")
	cmd.Flags().StringVar(&cartToken, "cart-token", "", "cart token of the remote order")
	cmd.MarkFlagRequired("order-id")
	cmd.MarkFlagRequired("cart-token")
	return cmd
}

// signOptions describes one signed request to a connector.
type signOptions struct {
	URL      string
	Method   string
	Resource string
	Secret   string
	Params   []string // key=value
	Send     bool
}

func newSignCommand(opts *rootOptions) *cobra.Command {
	so := &signOptions{}

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Build a signed request as Jilt would send it, and optionally send it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if so.Secret == "" {
				return fmt.Errorf("--secret or JILT_SECRET_KEY is required")
			}
			req, err := buildSignedRequest(cmd.Context(), so, time.Now())
			if err != nil {
				return err
			}
			if !so.Send {
				opts.printResult(cmd, req.Method, req.URL.String())
				return nil
			}
			return sendRequest(cmd, req)
		},
	}

	cmd.Flags().StringVar(&so.URL, "url", "http://localhost:8080/wc-api/jilt", "connector API endpoint")
	cmd.Flags().StringVar(&so.Method, "method", http.MethodGet, "HTTP method")
	cmd.Flags().StringVar(&so.Resource, "resource", "", "resource name, e.g. integration or shop")
	cmd.Flags().StringVar(&so.Secret, "secret", os.Getenv("JILT_SECRET_KEY"), "shared secret key")
	cmd.Flags().StringArrayVar(&so.Params, "param", nil, "extra key=value parameter (repeatable)")
	cmd.Flags().BoolVar(&so.Send, "send", false, "send the request and print the response")
	cmd.MarkFlagRequired("resource")
	return cmd
}

// buildSignedRequest signs resource, timestamp and params with the shared
// secret. GET and DELETE carry them in the query string, other methods in a
// form body.
func buildSignedRequest(ctx context.Context, so *signOptions, now time.Time) (*http.Request, error) {
	method := strings.ToUpper(so.Method)

	params := querystring.New()
	params.Set(signing.FieldResource, so.Resource)
	params.Set(signing.FieldTimestamp, strconv.FormatInt(now.Unix(), 10))
	for _, kv := range so.Params {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", kv)
		}
		params.Set(k, v)
	}
	params.Set(signing.FieldHash, signing.SignRequest(params, method, so.Secret))
	encoded := querystring.Build(params)

	target := so.URL
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + encoded
	} else {
		body = strings.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}

func sendRequest(cmd *cobra.Command, req *http.Request) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (x-jilt-version %s)\n%s\n",
		resp.Status, resp.Header.Get("x-jilt-version"), strings.TrimSpace(string(respBody)))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return nil
}
