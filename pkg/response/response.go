package response

import (
	"errors"
	"net/http"

	"auctionsystem/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeNotFound      = 404
	CodeTooManyReq    = 429
	CodeServerError   = 500
	CodeBusinessError = 1000
)

const (
	CodeInsufficientBalance = 1001
	CodeRoundNotOpen        = 1002
	CodeConcurrentUpdate    = 1003
	CodeSupplyExhausted     = 1004
	CodeRoundNotEnded       = 1005
	CodeAuctionNotFound     = 1006
	CodeRoundNotFound       = 1007
	CodeAllocationNotFound  = 1008
	CodeWalletNotFound      = 1009
	CodeDeliveryNotFound    = 1010
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}

var businessCodes = []struct {
	err  error
	code int
}{
	{service.ErrInvalidInput, CodeParamError},
	{service.ErrInsufficientBalance, CodeInsufficientBalance},
	{service.ErrRoundNotOpen, CodeRoundNotOpen},
	{service.ErrConcurrentUpdate, CodeConcurrentUpdate},
	{service.ErrSupplyExhausted, CodeSupplyExhausted},
	{service.ErrAuctionNotFound, CodeAuctionNotFound},
	{service.ErrRoundNotFound, CodeRoundNotFound},
	{service.ErrAllocationNotFound, CodeAllocationNotFound},
	{service.ErrWalletNotFound, CodeWalletNotFound},
	{service.ErrDeliveryNotFound, CodeDeliveryNotFound},
}

// CodeOf 业务错误对应的响应码，未知错误按服务器错误处理
func CodeOf(err error) int {
	var notEnded *service.RoundNotEndedError
	if errors.As(err, &notEnded) {
		return CodeRoundNotEnded
	}
	for _, bc := range businessCodes {
		if errors.Is(err, bc.err) {
			return bc.code
		}
	}
	return CodeServerError
}

// FromError 按错误类型返回业务码
func FromError(c *gin.Context, err error) {
	code := CodeOf(err)
	if code == CodeServerError {
		// 内部错误不把细节暴露给调用方
		ServerError(c, "服务器内部错误")
		return
	}
	Error(c, code, err.Error())
}
