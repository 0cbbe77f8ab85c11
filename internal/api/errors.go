package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// errorEnvelope is the uniform error response shape for the whole
// surface (§6.1 "Error envelope").
type errorEnvelope struct {
	Error string `json:"error"`
}

func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorEnvelope{Error: message})
}

// bindJSON decodes the request body into v, mapping the MaxBytesReader
// overread error to 413 and everything else to 400 (§4.9 middleware 4,
// §6.1 error envelope).
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		if strings.Contains(err.Error(), "http: request body too large") {
			writeError(c, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
