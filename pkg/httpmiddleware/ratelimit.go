package httpmiddleware

import (
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/pkg/ratelimit"
)

// RateLimitConfig configures the rate limit of one operation.
type RateLimitConfig struct {
	// Operation namespaces the buckets, so that each endpoint has its own
	// budget per client.
	Operation string
	Rule      ratelimit.Rule
	Store     ratelimit.Store
	// KeyFunc extracts the client key from a request.
	// If nil, ClientIP is used.
	KeyFunc func(*http.Request) string
}

// RateLimit returns a middleware that takes one point per request from the
// (operation, client) bucket. When the bucket is exhausted it responds with
// 429 Too Many Requests, a Retry-After header and a JSON body. Every
// response includes X-RateLimit-Limit, X-RateLimit-Remaining, and
// X-RateLimit-Reset headers.
//
// Store failures are logged and the request is let through.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ratelimit.Key(cfg.Operation, cfg.KeyFunc(r))
			d, err := cfg.Store.Take(r.Context(), key, cfg.Rule)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limit store unavailable",
					zap.String("operation", cfg.Operation),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retryAfter := d.RetryAfter(time.Now())
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host of RemoteAddr. Forwarding headers are ignored;
// use ClientIPResolver behind a proxy.
func ClientIP(r *http.Request) string {
	return remoteHost(r)
}

// ClientIPResolver extracts client addresses from requests that may have
// passed through reverse proxies. Forwarding headers are honoured only when
// the direct peer is a trusted proxy.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

// NewClientIPResolver parses trusted proxy addresses or CIDR ranges.
func NewClientIPResolver(trustedProxies []string) (*ClientIPResolver, error) {
	c := &ClientIPResolver{}
	for _, s := range trustedProxies {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			addr, err := netip.ParseAddr(s)
			if err != nil {
				return nil, errors.Wrapf(err, "parse trusted proxy %q", s)
			}
			c.trusted = append(c.trusted, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, errors.Wrapf(err, "parse trusted proxy %q", s)
		}
		c.trusted = append(c.trusted, prefix.Masked())
	}
	return c, nil
}

// ClientIP returns the first untrusted address walking X-Forwarded-For from
// the nearest hop, then X-Real-IP, then RemoteAddr.
func (c *ClientIPResolver) ClientIP(r *http.Request) string {
	peer := remoteHost(r)
	if !c.isTrusted(peer) {
		return peer
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if _, err := netip.ParseAddr(hop); err != nil {
			// A garbled hop was written by the client.
			return peer
		}
		if !c.isTrusted(hop) {
			return hop
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if _, err := netip.ParseAddr(xri); err == nil {
			return xri
		}
	}
	return peer
}

func (c *ClientIPResolver) isTrusted(ip string) bool {
	if len(c.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
