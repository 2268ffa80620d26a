package response

import "github.com/gin-gonic/gin"

// ErrorBody is the shape of every non-2xx reply.
type ErrorBody struct {
	Detail string `json:"detail"`
}

type MessageBody struct {
	Message    string `json:"message"`
	IndexError string `json:"index_error,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, data)
}

func Message(c *gin.Context, message string) {
	c.JSON(200, MessageBody{Message: message})
}

func Error(c *gin.Context, httpStatus int, detail string) {
	c.JSON(httpStatus, ErrorBody{Detail: detail})
}
