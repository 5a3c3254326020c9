package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures cross-origin access for the API.
type CORSConfig struct {
	// AllowOrigins lists origins permitted to call the API. Empty, or a
	// single "*" entry, allows any origin.
	AllowOrigins []string
	// AllowMethods defaults to the usual REST verbs when empty.
	AllowMethods []string
	// AllowHeaders lists request headers permitted on actual requests.
	// When empty, preflights echo whatever the browser asked for.
	AllowHeaders []string
	// AllowCredentials permits cookies and authorization headers. It is
	// incompatible with a wildcard origin; the specific origin is echoed
	// instead.
	AllowCredentials bool
	// MaxAge is the preflight cache lifetime in seconds. Zero omits the
	// header.
	MaxAge int
}

type cors struct {
	origins     map[string]string // lowercased origin -> configured spelling
	wildcard    bool
	methods     string
	headers     string
	credentials bool
	maxAge      string
}

// CORS returns a middleware answering preflights and stamping CORS
// headers on actual cross-origin requests. Responses vary on Origin so
// shared caches never serve one origin's grant to another.
func CORS(cfg CORSConfig) Middleware {
	c := &cors{
		origins:     make(map[string]string, len(cfg.AllowOrigins)),
		wildcard:    len(cfg.AllowOrigins) == 0,
		methods:     strings.Join(cfg.AllowMethods, ", "),
		headers:     strings.Join(cfg.AllowHeaders, ", "),
		credentials: cfg.AllowCredentials,
	}
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			c.wildcard = true
			continue
		}
		c.origins[strings.ToLower(o)] = o
	}
	// Credentialed responses must name the origin.
	if c.credentials {
		c.wildcard = false
	}
	if c.methods == "" {
		c.methods = "GET, POST, PUT, DELETE, OPTIONS"
	}
	if cfg.MaxAge > 0 {
		c.maxAge = strconv.Itoa(cfg.MaxAge)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Same-origin or non-browser traffic.
				w.Header().Add("Vary", "Origin")
				next.ServeHTTP(w, r)
				return
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				c.preflight(w, r, origin)
				return
			}
			c.actual(w, origin)
			next.ServeHTTP(w, r)
		})
	}
}

func (c *cors) preflight(w http.ResponseWriter, r *http.Request, origin string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")

	if grant := c.grant(origin); grant != "" {
		h.Set("Access-Control-Allow-Origin", grant)
		h.Set("Access-Control-Allow-Methods", c.methods)
		switch {
		case c.headers != "":
			h.Set("Access-Control-Allow-Headers", c.headers)
		default:
			if asked := r.Header.Get("Access-Control-Request-Headers"); asked != "" {
				h.Set("Access-Control-Allow-Headers", asked)
			}
		}
		if c.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if c.maxAge != "" {
			h.Set("Access-Control-Max-Age", c.maxAge)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *cors) actual(w http.ResponseWriter, origin string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	grant := c.grant(origin)
	if grant == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", grant)
	if c.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}

// grant resolves the Access-Control-Allow-Origin value for origin, or ""
// when the origin is not allowed. Matching is case-insensitive; the
// configured spelling is echoed back.
func (c *cors) grant(origin string) string {
	if c.wildcard {
		return "*"
	}
	return c.origins[strings.ToLower(origin)]
}
