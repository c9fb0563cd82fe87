package panel

import (
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// guard admits only requests addressed to a loopback host, from the panel's
// own origin, with JSON bodies on writes. Pages in the browser can reach
// loopback ports; these checks keep them from deciding their own calls.
func (p *Panel) guard() gin.HandlerFunc {
	return func(c *gin.Context) {
		r := c.Request
		if !loopbackHost(r.Host) {
			p.forbid(c, "host not allowed")
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" && !sameOrigin(origin, r.Host) {
			p.forbid(c, "cross-origin request refused")
			return
		}
		if r.Method == http.MethodPost {
			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mt != "application/json" {
				p.forbid(c, "content type must be application/json")
				return
			}
		}
		c.Next()
	}
}

func (p *Panel) forbid(c *gin.Context, reason string) {
	p.log.Warn("panel request refused", "reason", reason, "method", c.Request.Method,
		"path", c.Request.URL.Path, "host", c.Request.Host, "origin", c.Request.Header.Get("Origin"))
	c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: reason})
}

// loopbackHost reports whether a Host header names this machine.
func loopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func sameOrigin(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme != "http" {
		return false
	}
	return strings.EqualFold(u.Host, host)
}
