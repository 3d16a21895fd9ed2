// MCP transport handler for merchant administration using the official MCP Go SDK.
// Exposes integration lifecycle operations as MCP tools.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"jilt-connector/internal/integration"
	"jilt-connector/internal/model"
	"jilt-connector/internal/signing"
)

// === MCP Tool Input/Output Types ===

// EmptyInput is the input schema for tools that take no arguments.
type EmptyInput struct{}

// IntegrationStatus describes the connection between the store and Jilt.
type IntegrationStatus struct {
	Configured    bool              `json:"configured"`
	Linked        bool              `json:"linked"`
	Disabled      bool              `json:"disabled"`
	DuplicateSite bool              `json:"duplicate_site"`
	Active        bool              `json:"active"`
	ShopID        model.RemoteID    `json:"shop_id,omitempty"`
	Settings      map[string]string `json:"settings"`
}

// UpdateIntegrationInput is the input schema for update_integration tool.
type UpdateIntegrationInput struct {
	Settings map[string]string `json:"settings" jsonschema:"settings to merge; unknown keys and secret_key are ignored,required"`
}

// UpdateIntegrationOutput returns the stored settings after the update.
type UpdateIntegrationOutput struct {
	Settings map[string]string `json:"settings"`
}

// LinkShopInput is the input schema for link_shop tool.
type LinkShopInput struct {
	OwnerName  string `json:"owner_name,omitempty" jsonschema:"shop owner's display name"`
	OwnerEmail string `json:"owner_email,omitempty" jsonschema:"shop owner's email"`
}

// LinkShopOutput reports the linked shop.
type LinkShopOutput struct {
	ShopID model.RemoteID `json:"shop_id"`
}

// RecoveryURLInput is the input schema for recovery_url tool.
type RecoveryURLInput struct {
	OrderID   model.RemoteID `json:"order_id" jsonschema:"remote order id,required"`
	CartToken string         `json:"cart_token" jsonschema:"cart token of the remote order,required"`
}

// RecoveryURLOutput carries a signed recovery link.
type RecoveryURLOutput struct {
	URL string `json:"url"`
}

// NewMCPServer creates an MCP server with administration tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "jilt-connector",
			Version: h.cfg.PluginVersion,
		},
		&mcp.ServerOptions{
			Instructions: "Jilt connector administration. " +
				"Use these tools to inspect and change the store's link to Jilt.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_integration",
		Description: "Get the integration status and settings. The secret key is never returned.",
	}, h.mcpGetIntegration)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_integration",
		Description: "Merge known settings into the integration settings.",
	}, h.mcpUpdateIntegration)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "link_shop",
		Description: "Register this store with Jilt, or re-link it when the domain is already registered.",
	}, h.mcpLinkShop)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "unlink_shop",
		Description: "Delete the shop from Jilt and forget the local link.",
	}, h.mcpUnlinkShop)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "push_shop",
		Description: "Send the current shop data to Jilt.",
	}, h.mcpPushShop)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "recovery_url",
		Description: "Build a signed recovery link for a remote order.",
	}, h.mcpRecoveryURL)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpGetIntegration(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input EmptyInput,
) (*mcp.CallToolResult, *IntegrationStatus, error) {
	status, err := h.integrationStatus(ctx)
	return nil, status, err
}

func (h *Handler) integrationStatus(ctx context.Context) (*IntegrationStatus, error) {
	integ := h.deps.Integration
	settings, err := integ.SafeSettings(ctx)
	if err != nil {
		return nil, h.mcpError(err)
	}
	return &IntegrationStatus{
		Configured:    integ.IsConfigured(ctx),
		Linked:        integ.IsLinked(ctx),
		Disabled:      integ.IsDisabled(ctx),
		DuplicateSite: integ.IsDuplicateSite(ctx),
		Active:        integ.IsActive(ctx),
		ShopID:        integ.ShopID(ctx),
		Settings:      settings,
	}, nil
}

func (h *Handler) mcpUpdateIntegration(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input UpdateIntegrationInput,
) (*mcp.CallToolResult, *UpdateIntegrationOutput, error) {
	settings, err := h.deps.Integration.UpdateSettings(ctx, input.Settings)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, &UpdateIntegrationOutput{Settings: settings}, nil
}

func (h *Handler) mcpLinkShop(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input LinkShopInput,
) (*mcp.CallToolResult, *LinkShopOutput, error) {
	id, err := h.deps.Integration.LinkShop(ctx, integration.Owner{Name: input.OwnerName, Email: input.OwnerEmail})
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, &LinkShopOutput{ShopID: id}, nil
}

func (h *Handler) mcpUnlinkShop(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input EmptyInput,
) (*mcp.CallToolResult, *IntegrationStatus, error) {
	h.deps.Integration.UnlinkShop(ctx)
	if err := h.deps.Integration.ClearConnection(ctx); err != nil {
		return nil, nil, h.mcpError(err)
	}
	status, err := h.integrationStatus(ctx)
	return nil, status, err
}

func (h *Handler) mcpPushShop(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input EmptyInput,
) (*mcp.CallToolResult, *model.ShopData, error) {
	if !h.deps.Integration.IsLinked(ctx) {
		return nil, nil, h.mcpError(model.NewNotConfiguredError("Not linked"))
	}
	h.deps.Integration.UpdateShop(ctx)
	return nil, h.deps.Integration.ShopData(ctx), nil
}

func (h *Handler) mcpRecoveryURL(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RecoveryURLInput,
) (*mcp.CallToolResult, *RecoveryURLOutput, error) {
	if input.OrderID == 0 || input.CartToken == "" {
		return nil, nil, fmt.Errorf("order_id and cart_token are required")
	}
	links := signing.LinkBuilder{
		HomeURL:          h.cfg.HomeURL,
		PrettyPermalinks: h.cfg.PrettyPermalinks,
		Secret:           h.deps.Integration.SecretKey(ctx),
	}
	if links.Secret == "" {
		return nil, nil, h.mcpError(model.NewNotConfiguredError("Not linked"))
	}
	u, err := links.RecoveryURL(input.OrderID, input.CartToken)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, &RecoveryURLOutput{URL: u}, nil
}

// mcpError converts service errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
