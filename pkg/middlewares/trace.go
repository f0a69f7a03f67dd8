package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/utils"
)

// TraceID reuses the caller's X-Trace-Id or mints one, stores it on the gin context under
// pkg.TraceId and echoes it on the response.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.Request.Header.Get(pkg.HeaderTraceId)
		if utils.IsEmpty(traceID) {
			traceID = uuid.NewString()
		}
		c.Set(pkg.TraceId, traceID)
		c.Writer.Header().Set(pkg.HeaderTraceId, traceID)
		c.Next()
	}
}
