package middleware

import "github.com/gin-gonic/gin"

// abort stops the chain with the error body every API response uses.
// Rejections made here carry the HTTP status as errorNum.
func abort(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{
		"error":        true,
		"code":         code,
		"errorNum":     code,
		"errorMessage": msg,
	})
}

// ClaimsKey is the gin context key holding verified token claims.
const ClaimsKey = "claims"

// subject returns the verified subject of the request, if any.
func subject(c *gin.Context) string {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return ""
	}
	cm, ok := v.(map[string]interface{})
	if !ok {
		return ""
	}
	sub, _ := cm["sub"].(string)
	return sub
}

// limitKey prefers the authenticated subject and falls back to the client IP.
func limitKey(c *gin.Context) string {
	if sub := subject(c); sub != "" {
		return "sub:" + sub
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}
