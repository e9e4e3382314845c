package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/conneroisu/localdev/internal/logging"
	"github.com/conneroisu/localdev/internal/org"
)

// APIProxy forwards requests to the org instance with the org's access token.
type APIProxy struct {
	provider  org.Provider
	rewriter  Rewriter
	transport http.RoundTripper
	logger    logging.Logger
}

// NewAPIProxy creates a proxy that resolves the org connection per request.
func NewAPIProxy(provider org.Provider, rewriter Rewriter, logger logging.Logger) *APIProxy {
	return &APIProxy{
		provider:  provider,
		rewriter:  rewriter,
		transport: http.DefaultTransport,
		logger:    logger.WithComponent("proxy"),
	}
}

// ServeHTTP implements http.Handler.
func (p *APIProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := p.provider.Connection(ctx)
	if err != nil {
		p.logger.Error(ctx, err, "Org connection unavailable", "path", r.URL.Path)
		http.Error(w, "org connection unavailable", http.StatusBadGateway)
		return
	}

	target, err := url.Parse(conn.InstanceURL)
	if err != nil {
		p.logger.Error(ctx, err, "Invalid org instance URL", "instance_url", conn.InstanceURL)
		http.Error(w, "invalid org instance URL", http.StatusBadGateway)
		return
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = target.Scheme
			pr.Out.URL.Host = target.Host
			pr.Out.URL.Path = p.rewriter.Rewrite(pr.In.URL.Path)
			pr.Out.URL.RawPath = ""
			pr.Out.Host = target.Host
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Set("Authorization", "Bearer "+conn.AccessToken)
		},
		Transport: p.transport,
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Del("Set-Cookie")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.logger.Error(r.Context(), err, "Proxy request failed", "path", r.URL.Path)
			http.Error(w, fmt.Sprintf("proxy error: %v", err), http.StatusBadGateway)
		},
	}

	p.logger.Debug(ctx, "Proxying API request",
		"method", r.Method,
		"path", r.URL.Path,
		"target", p.rewriter.Rewrite(r.URL.Path),
	)
	rp.ServeHTTP(w, r)
}
