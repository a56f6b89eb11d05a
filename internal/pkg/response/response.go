package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

// Success writes the code/message/data envelope used by operational
// endpoints.
func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

// Raw writes data without the envelope. The chat and knowledge routes are
// consumed by clients that expect bare payloads.
func Raw(c *gin.Context, data interface{}) {
	RawStatus(c, http.StatusOK, data)
}

func RawStatus(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

type failure struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

// Fail writes a bare {code, error} body.
func Fail(c *gin.Context, status int, code int, message string) {
	c.JSON(status, failure{Code: code, Error: message})
}
