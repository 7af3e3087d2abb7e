package logging

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// GinLogrusLogger returns a Gin middleware handler that logs HTTP requests
// using logrus. It attaches a fresh request ID to every request so handler
// logs can be correlated with the access line.
//
// Output format: [2026-01-12 20:14:10] [a1b2c3d4] [info ] 302 |   12ms | GET /login
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		requestID := GenerateRequestID()
		SetGinRequestID(c, requestID)
		ctx := WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		latency := time.Since(start).Truncate(time.Millisecond)
		status := c.Writer.Status()

		entry := log.WithField("request_id", requestID)
		switch {
		case status >= http.StatusInternalServerError:
			entry.Errorf("%3d | %8s | %s %s", status, latency, c.Request.Method, path)
		case status >= http.StatusBadRequest:
			entry.Warnf("%3d | %8s | %s %s", status, latency, c.Request.Method, path)
		default:
			entry.Infof("%3d | %8s | %s %s", status, latency, c.Request.Method, path)
		}
	}
}

// GinRecovery returns a Gin middleware handler that recovers from panics in
// handlers, logs the stack trace and responds with a plain 500.
func GinRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("request_id", GetGinRequestID(c)).
					Errorf("panic recovered: %v\n%s", r, debug.Stack())
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}
