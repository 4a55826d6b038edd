package httpserver

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/and161185/securelink/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const principalKey = "principal"

// accessLog logs one line per request. Beacon and health traffic is noisy,
// so it goes to debug.
func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		lvl := zapcore.InfoLevel
		switch c.FullPath() {
		case "/beacon", "/healthz":
			lvl = zapcore.DebugLevel
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			lvl = zapcore.WarnLevel
		}
		// only metadata, never bodies or tokens
		log.Log(lvl, "http",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

func recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("route", c.FullPath()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
		}()
		c.Next()
	}
}

// requireSender authenticates the bearer JWT and stores the principal.
func requireSender(key []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}
		p, err := auth.Parse(key, tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func principal(c *gin.Context) auth.Principal {
	p, _ := c.MustGet(principalKey).(auth.Principal)
	return p
}
