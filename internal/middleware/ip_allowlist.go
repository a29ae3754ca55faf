package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// IPAllowList only lets localhost and listed IPs or CIDR ranges through.
type IPAllowList struct {
	logger  *logrus.Entry
	ips     []net.IP
	subnets []*net.IPNet
}

// NewIPAllowList parses entries. Invalid entries are logged and ignored.
func NewIPAllowList(logger *logrus.Entry, allowed []string) *IPAllowList {
	l := &IPAllowList{logger: logger}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.WithField("entry", entry).WithError(err).Warn("Invalid CIDR in allowed IPs")
				continue
			}
			l.subnets = append(l.subnets, ipNet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			l.ips = append(l.ips, ip)
		} else {
			logger.WithField("entry", entry).Warn("Invalid IP in allowed IPs")
		}
	}
	return l
}

// Restrict aborts with 403 for clients outside the list. A loopback peer is
// always allowed so local tooling keeps working behind a misconfigured proxy.
func (l *IPAllowList) Restrict() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		remoteIP, _, _ := net.SplitHostPort(c.Request.RemoteAddr)

		if l.Allowed(clientIP) || isLocalhost(remoteIP) {
			c.Next()
			return
		}

		l.logger.WithFields(logrus.Fields{
			"client_ip": clientIP,
			"remote_ip": remoteIP,
			"path":      c.Request.URL.Path,
			"method":    c.Request.Method,
		}).Warn("Reject non-whitelisted access to admin API")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "This API is only accessible from allowed IP addresses",
			"code":    "IP_NOT_ALLOWED",
		})
	}
}

// Allowed reports whether ip is localhost or in the list.
func (l *IPAllowList) Allowed(ip string) bool {
	if isLocalhost(ip) {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, allowed := range l.ips {
		if allowed.Equal(parsed) {
			return true
		}
	}
	for _, subnet := range l.subnets {
		if subnet.Contains(parsed) {
			return true
		}
	}
	return false
}

func isLocalhost(ip string) bool {
	if ip == "localhost" {
		return true
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
