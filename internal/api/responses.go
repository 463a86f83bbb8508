package api

import "github.com/gin-gonic/gin"

// listEnvelope is the uniform shape of every paginated list response.
type listEnvelope struct {
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
	Items      interface{} `json:"items"`
}

// errEnvelope is the uniform shape of every error response.
type errEnvelope struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
	Details    string `json:"details,omitempty"`
	Path       string `json:"path"`
}

func writeErr(c *gin.Context, status int, msg, details string) {
	c.JSON(status, errEnvelope{
		Error:      msg,
		StatusCode: status,
		Details:    details,
		Path:       c.Request.URL.Path,
	})
}

func writeValidationErr(c *gin.Context, details string) {
	writeErr(c, 400, "validation_error", details)
}

func writeNotFound(c *gin.Context, details string) {
	writeErr(c, 404, "not_found", details)
}

func writeInternalErr(c *gin.Context) {
	writeErr(c, 500, "internal_error", "")
}
