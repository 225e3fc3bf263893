package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Response struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func OK(c *gin.Context, data any) {
	Write(c, http.StatusOK, data)
}

func Created(c *gin.Context, data any) {
	Write(c, http.StatusCreated, data)
}

// Write sends a successful envelope with an explicit 2xx status.
func Write(c *gin.Context, httpStatus int, data any) {
	c.JSON(httpStatus, Response{
		Success: true,
		Code:    0,
		Message: "ok",
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	FailWithData(c, httpStatus, code, msg, nil)
}

// FailWithData is used when the caller needs machine-readable details, such as
// the list of validation violations for a rejected batch.
func FailWithData(c *gin.Context, httpStatus int, code int, msg string, data any) {
	c.AbortWithStatusJSON(httpStatus, Response{
		Success: false,
		Code:    code,
		Message: msg,
		Data:    data,
	})
}
