package middleware

import (
	"errors"
	"net/http"

	"termhub-engine/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error maps errutil codes onto HTTP responses. Handlers call c.Error and
// return; anything that is not a BaseError becomes a 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var base errutil.BaseError
		if errors.As(last.Err, &base) {
			c.JSON(base.Code.HTTPStatus(), base.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    errutil.StatusInternal,
				"message": last.Err.Error(),
			},
		})
	}
}
