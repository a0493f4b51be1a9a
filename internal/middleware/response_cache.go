package middleware

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/cache"
	"github.com/zfogg/vidlayer/internal/logger"
	"go.uber.org/zap"
)

// PublicResponseCache caches successful anonymous GET responses in store for
// ttl. Authenticated requests bypass it since their responses may include
// private data. Adds X-Cache: HIT/MISS.
func PublicResponseCache(store cache.Store, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet || store == nil || c.GetHeader("Authorization") != "" {
			c.Next()
			return
		}

		cacheKey := responseCacheKey(c.Request.URL.Path, c.Request.URL.RawQuery)
		ctx := c.Request.Context()

		if cached, err := store.Get(ctx, cacheKey); err == nil {
			c.Header("X-Cache", "HIT")
			c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", int(ttl.Seconds())))
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
			c.Abort()
			return
		}

		writer := &cachedResponseWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = writer
		c.Header("X-Cache", "MISS")

		c.Next()

		status := writer.Status()
		if status >= 200 && status < 300 && writer.body.Len() > 0 {
			if err := store.Set(ctx, cacheKey, writer.body.String(), ttl); err != nil {
				logger.Log.Debug("Failed to write response to cache",
					zap.String("key", cacheKey),
					zap.Error(err),
				)
			}
		}
	}
}

func responseCacheKey(path, query string) string {
	if query == "" {
		return "response:" + path
	}
	return "response:" + path + "?" + query
}

// cachedResponseWriter intercepts response writes to capture the response body
type cachedResponseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *cachedResponseWriter) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *cachedResponseWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
