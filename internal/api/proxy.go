package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"gatekeeper/internal/models"
)

// NewUpstreamProxy returns a reverse proxy to target. via is appended to the
// Via header in both directions. Transport failures become a JSON 502.
func NewUpstreamProxy(target, via string) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q: scheme and host are required", target)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			pr.SetXForwarded()
			pr.Out.Header.Add("Via", via)
		},
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Add("Via", via)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("Upstream request failed",
				"upstream", u.Host,
				"method", r.Method,
				"path", r.URL.Path,
				"error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(models.NewErrorResponse("Upstream service unavailable", models.ErrorCodeBadGateway))
		},
	}, nil
}
