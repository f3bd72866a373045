package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	requestIDHeader = "X-Request-ID"

	statusWarnThreshold  = 400
	statusErrorThreshold = 500
)

// ZerologLogger is a Gin middleware that logs requests using zerolog.
// Every response carries an X-Request-ID, taken from the request when present.
// Requests on task routes are logged with the task id and the matched route.
func ZerologLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		method := c.Request.Method
		clientIP := c.ClientIP()
		ua := c.Request.UserAgent()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		size := c.Writer.Size()

		evt := log.Info()
		switch {
		case status >= statusErrorThreshold:
			evt = log.Error()
		case status >= statusWarnThreshold:
			evt = log.Warn()
		}

		if raw != "" {
			path = path + "?" + raw
		}

		if route := c.FullPath(); route != "" {
			evt = evt.Str("route", route)
		}
		if taskID := c.Param("id"); taskID != "" {
			evt = evt.Str("task_id", taskID)
		}
		if len(c.Errors) > 0 {
			evt = evt.Str("errors", c.Errors.String())
		}

		evt.
			Str("request_id", requestID).
			Int("status", status).
			Str("method", method).
			Str("path", path).
			Dur("latency", latency).
			Str("client_ip", clientIP).
			Int("bytes", size).
			Str("user_agent", ua).
			Msg("http request completed")
	}
}
