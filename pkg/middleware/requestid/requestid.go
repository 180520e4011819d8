package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// Header carries the request ID on both requests and responses.
	Header = "X-Request-ID"

	ctxKey = "request_id"
)

// Middleware tags every request with an ID, reusing the caller-supplied
// X-Request-ID header when present so IDs survive proxy hops.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(Header)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxKey, id)
		c.Writer.Header().Set(Header, id)
		c.Next()
	}
}

// Value reads the request ID back out of the gin context. Empty when
// Middleware did not run.
func Value(c *gin.Context) string {
	v, ok := c.Get(ctxKey)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}
