package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
)

// SecurityConfig represents security headers configuration
type SecurityConfig struct {
	HSTS                  bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	FrameOptions          string
	ContentTypeOptions    string
	ReferrerPolicy        string
	CacheControl          string
	CSPDirectives         []string
}

// DefaultSecurityConfig suits a JSON API: nothing is framed, cached or rendered.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		HSTS:                  true,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,
		FrameOptions:          "DENY",
		ContentTypeOptions:    "nosniff",
		ReferrerPolicy:        "no-referrer",
		CacheControl:          "no-store",
		CSPDirectives: []string{
			"default-src 'none'",
			"frame-ancestors 'none'",
		},
	}
}

// SecurityHeaders adds security headers to responses
func SecurityHeaders(config SecurityConfig) gin.HandlerFunc {
	csp := strings.Join(config.CSPDirectives, "; ")
	hsts := fmt.Sprintf("max-age=%d", config.HSTSMaxAge)
	if config.HSTSIncludeSubdomains {
		hsts += "; includeSubDomains"
	}

	return func(c *gin.Context) {
		if config.HSTS {
			c.Header("Strict-Transport-Security", hsts)
		}
		c.Header("X-Frame-Options", config.FrameOptions)
		c.Header("X-Content-Type-Options", config.ContentTypeOptions)
		c.Header("Referrer-Policy", config.ReferrerPolicy)
		if config.CacheControl != "" {
			c.Header("Cache-Control", config.CacheControl)
		}
		if csp != "" {
			c.Header("Content-Security-Policy", csp)
		}
		c.Next()
	}
}
