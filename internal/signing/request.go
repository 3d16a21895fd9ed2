package signing

import (
	"crypto/hmac"
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"
	"time"

	"jilt-connector/internal/model"
	"jilt-connector/internal/querystring"
)

// DefaultMaxAge is how old a signed request's timestamp may be.
const DefaultMaxAge = 5 * time.Minute

// Fields with special meaning in a signed request.
const (
	FieldHash      = "hash"
	FieldTimestamp = "timestamp"
	FieldResource  = "resource"
	FieldMethod    = "method"
	FieldRoute     = "wc-api" // routing only, never signed
)

var trailingIndex = regexp.MustCompile(`%5B\d+%5D=`)

// BaseString builds the string a request signature covers: params minus
// hash and routing fields, plus the lower-cased HTTP method, sorted by
// top-level key and form-encoded. A numeric index immediately before "="
// is dropped so "a[0]=x" and "a[]=x" sign identically.
func BaseString(params *querystring.Map, method string) string {
	p := params.Clone()
	p.Delete(FieldHash)
	p.Delete(FieldRoute)
	p.Set(FieldMethod, strings.ToLower(method))
	p.SortKeys()
	return trailingIndex.ReplaceAllString(querystring.Build(p), "%5B%5D=")
}

// SignRequest returns the base64 HMAC for params sent with method.
func SignRequest(params *querystring.Map, method, secret string) string {
	return base64.StdEncoding.EncodeToString(mac([]byte(BaseString(params, method)), secret))
}

// RequestVerifier authenticates signed server-to-server requests.
type RequestVerifier struct {
	Secret string
	MaxAge time.Duration
	Now    func() time.Time
}

// Verify checks, in order: required fields present, signature valid,
// timestamp fresh. Errors are *model.APIError values carrying the
// response status (400, 401, 422).
func (v *RequestVerifier) Verify(params *querystring.Map, method string) error {
	for _, field := range []string{FieldHash, FieldTimestamp, FieldResource} {
		if !params.Has(field) {
			return model.NewBadRequestError("Missing " + field)
		}
	}

	provided, err := base64.StdEncoding.DecodeString(params.String(FieldHash))
	if err != nil {
		return model.NewUnauthorizedError("Signature verification failed")
	}
	expected := mac([]byte(BaseString(params, method)), v.Secret)
	if !hmac.Equal(expected, provided) {
		return model.NewUnauthorizedError("Signature verification failed")
	}

	ts, err := strconv.ParseInt(params.String(FieldTimestamp), 10, 64)
	if err != nil {
		return model.NewBadRequestError("Invalid timestamp")
	}
	maxAge := v.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	if now().Unix()-ts > int64(maxAge/time.Second) {
		return model.NewExpiredError("Request timestamp exceeds max age")
	}
	return nil
}
