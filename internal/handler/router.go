package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"jilt-connector/internal/model"
	"jilt-connector/internal/platform"
	"jilt-connector/internal/querystring"
	"jilt-connector/internal/recovery"
	"jilt-connector/internal/signing"
)

type resourceKey struct {
	verb     string
	resource string
}

// resourceFunc handles a verified inbound request. params no longer holds
// the method, resource or timestamp fields.
type resourceFunc func(ctx context.Context, params *querystring.Map) (any, error)

// advertisedResources is every (verb, resource) pair the router answers.
var advertisedResources = []resourceKey{
	{"get", "integration"},
	{"put", "integration"},
	{"post", "integration"},
	{"delete", "integration"},
	{"get", "shop"},
}

func (h *Handler) resourceTable() map[resourceKey]resourceFunc {
	return map[resourceKey]resourceFunc{
		{"get", "integration"}:    h.getIntegration,
		{"put", "integration"}:    h.putIntegration,
		{"post", "integration"}:   h.postIntegration,
		{"delete", "integration"}: h.deleteIntegration,
		{"get", "shop"}:           h.getShop,
	}
}

func checkResourceTable(table map[resourceKey]resourceFunc) error {
	for _, k := range advertisedResources {
		if table[k] == nil {
			return fmt.Errorf("no handler for %s %s", k.verb, k.resource)
		}
	}
	if len(table) != len(advertisedResources) {
		return fmt.Errorf("resource table has %d entries, %d advertised", len(table), len(advertisedResources))
	}
	return nil
}

// handleRoot serves /?wc-api=jilt. Anything else at the root is not ours.
func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get(signing.FieldRoute) != "jilt" {
		http.NotFound(w, r)
		return
	}
	h.handleAPI(w, r)
}

// handleAPI dispatches recovery links and signed server-to-server requests.
// GET|POST /wc-api/jilt, GET|POST /?wc-api=jilt
func (h *Handler) handleAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(VersionHeader, h.cfg.PluginVersion)

	params, err := requestParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	switch {
	case params.String("token") != "" && params.String("hash") != "":
		h.handleRecovery(w, r, params)
	case params.String(signing.FieldResource) != "":
		h.handleSigned(w, r, params)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handleRecovery(w http.ResponseWriter, r *http.Request, params *querystring.Map) {
	ctx := r.Context()

	sess, err := h.cookieSession(ctx, r)
	if err != nil {
		h.logger.ErrorContext(ctx, "session unavailable for recovery", slog.Any("error", err))
		sess = h.deps.Sessions.New()
		sess.RefreshCookie()
	}

	out := h.deps.Recovery.Recover(ctx, recovery.Request{
		Token:  params.String("token"),
		Hash:   params.String("hash"),
		Coupon: strings.TrimSpace(params.String("coupon")),
	}, sess)

	if out.Notice != "" {
		sess.Set(platform.SessionNotice, out.Notice)
	}
	if err := h.saveSession(ctx, w, sess); err != nil {
		h.logger.ErrorContext(ctx, "failed to save recovered session", slog.Any("error", err))
	}

	http.Redirect(w, r, out.RedirectURL, http.StatusFound)
}

func (h *Handler) handleSigned(w http.ResponseWriter, r *http.Request, params *querystring.Map) {
	ctx := r.Context()
	verb := strings.ToLower(r.Method)
	resource := params.String(signing.FieldResource)

	h.logger.DebugContext(ctx, "incoming signed request",
		slog.String("method", r.Method),
		slog.String("resource", resource),
		slog.String("remote", r.RemoteAddr),
	)

	secret := h.deps.Integration.SecretKey(ctx)
	if secret == "" {
		h.writeError(w, model.NewNotConfiguredError("Not linked"))
		return
	}

	verifier := signing.RequestVerifier{Secret: secret, MaxAge: h.cfg.MaxRequestAge, Now: h.cfg.Now}
	if err := verifier.Verify(params, r.Method); err != nil {
		h.logger.WarnContext(ctx, "rejected signed request", slog.String("resource", resource), slog.Any("error", err))
		h.writeError(w, err)
		return
	}

	fn := h.resources[resourceKey{verb, resource}]
	if fn == nil {
		h.writeError(w, model.NewNotImplementedError(verb, resource))
		return
	}

	params.Delete(signing.FieldMethod)
	params.Delete(signing.FieldResource)
	params.Delete(signing.FieldTimestamp)
	params.Delete(signing.FieldHash)
	params.Delete(signing.FieldRoute)

	result, err := fn(ctx, params)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if verb == "post" {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, result)
}

// requestParams merges the query string and a form-encoded body. Body
// values win over query values with the same top-level key.
func requestParams(r *http.Request) (*querystring.Map, error) {
	params, err := querystring.Parse(r.URL.RawQuery)
	if err != nil {
		return nil, model.NewBadRequestError("Malformed query string")
	}
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return params, nil
	}
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct != "application/x-www-form-urlencoded" {
		return params, nil
	}

	raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, MaxRequestBodySize))
	if err != nil {
		return nil, model.NewBadRequestError("Unreadable request body")
	}
	body, err := querystring.Parse(string(raw))
	if err != nil {
		return nil, model.NewBadRequestError("Malformed request body")
	}
	params.Merge(body)
	return params, nil
}

// === Resources ===

func (h *Handler) getIntegration(ctx context.Context, _ *querystring.Map) (any, error) {
	return h.deps.Integration.SafeSettings(ctx)
}

func (h *Handler) putIntegration(ctx context.Context, params *querystring.Map) (any, error) {
	return h.deps.Integration.UpdateSettings(ctx, params.StringMap())
}

func (h *Handler) postIntegration(ctx context.Context, _ *querystring.Map) (any, error) {
	return nil, h.deps.Integration.Enable(ctx)
}

func (h *Handler) deleteIntegration(ctx context.Context, _ *querystring.Map) (any, error) {
	return nil, h.deps.Integration.Disable(ctx)
}

func (h *Handler) getShop(ctx context.Context, _ *querystring.Map) (any, error) {
	return h.deps.Integration.ShopData(ctx), nil
}
