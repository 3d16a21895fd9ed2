package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"jilt-connector/internal/querystring"
	"jilt-connector/internal/signing"
)

func TestBuildSignedRequest(t *testing.T) {
	now := time.Unix(1700000000, 0)
	verifier := signing.RequestVerifier{Secret: "shh", Now: func() time.Time { return now }}

	tests := []struct {
		name   string
		method string
		inBody bool
	}{
		{"get in query", "get", false},
		{"delete in query", "DELETE", false},
		{"put in body", "PUT", true},
		{"post in body", "POST", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := buildSignedRequest(context.Background(), &signOptions{
				URL:      "http://localhost:8080/?wc-api=jilt",
				Method:   tt.method,
				Resource: "integration",
				Secret:   "shh",
				Params:   []string{"log_level=200"},
			}, now)
			if err != nil {
				t.Fatalf("buildSignedRequest() error = %v", err)
			}
			if req.Method != strings.ToUpper(tt.method) {
				t.Errorf("Method = %s, want %s", req.Method, strings.ToUpper(tt.method))
			}

			raw := req.URL.RawQuery
			if tt.inBody {
				if req.Header.Get("Content-Type") != "application/x-www-form-urlencoded" {
					t.Errorf("Content-Type = %q", req.Header.Get("Content-Type"))
				}
				b, _ := io.ReadAll(req.Body)
				raw = string(b)
			}
			params, err := querystring.Parse(raw)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if params.String(signing.FieldResource) != "integration" {
				t.Errorf("resource = %q", params.String(signing.FieldResource))
			}
			if err := verifier.Verify(params, req.Method); err != nil {
				t.Errorf("Verify() error = %v", err)
			}
		})
	}
}

func TestBuildSignedRequestInvalidParam(t *testing.T) {
	_, err := buildSignedRequest(context.Background(), &signOptions{
		URL: "http://localhost", Method: "GET", Resource: "shop", Secret: "k", Params: []string{"novalue"},
	}, time.Now())
	if err == nil {
		t.Error("buildSignedRequest() error = nil, want error")
	}
}

func TestSignCommandPrintsURL(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"sign", "--quiet", "--resource", "shop", "--secret", "k", "--url", "http://localhost:8080/wc-api/jilt"})

	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	got := strings.TrimSpace(out.String())
	if !strings.HasPrefix(got, "http://localhost:8080/wc-api/jilt?") || !strings.Contains(got, "hash=") {
		t.Errorf("output = %q, want signed URL", got)
	}
	if _, err := http.NewRequest(http.MethodGet, got, nil); err != nil {
		t.Errorf("output is not a URL: %v", err)
	}
}
