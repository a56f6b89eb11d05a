package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/pkg/errcode"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"github.com/xxxsen/kbchat/internal/pkg/response"
)

// classify maps a service error onto an http status and an errcode value.
func classify(err error) (int, int) {
	switch {
	case errors.Is(err, appErr.ErrInvalidSourceType):
		return http.StatusBadRequest, errcode.ErrInvalidSourceType
	case errors.Is(err, appErr.ErrInvalidGithubURL):
		return http.StatusBadRequest, errcode.ErrInvalidGithubURL
	case errors.Is(err, appErr.ErrInvalid):
		return http.StatusBadRequest, errcode.ErrInvalid
	case errors.Is(err, appErr.ErrUnknownItem):
		return http.StatusNotFound, errcode.ErrUnknownItem
	case errors.Is(err, appErr.ErrEmptyKnowledgeBase):
		return http.StatusNotFound, errcode.ErrEmptyKnowledgeBase
	case errors.Is(err, appErr.ErrNotFound):
		return http.StatusNotFound, errcode.ErrNotFound
	case errors.Is(err, appErr.ErrScopeRejected):
		return http.StatusForbidden, errcode.ErrScopeRejected
	case errors.Is(err, appErr.ErrConflict):
		return http.StatusConflict, errcode.ErrConflict
	case errors.Is(err, appErr.ErrTooMany):
		return http.StatusTooManyRequests, errcode.ErrTooMany
	case errors.Is(err, appErr.ErrUnavailable):
		return http.StatusServiceUnavailable, errcode.ErrAIUnavailable
	}
	if _, ok := appErr.AsProviderError(err); ok {
		return http.StatusBadGateway, errcode.ErrProviderFailure
	}
	return http.StatusInternalServerError, errcode.ErrInternal
}

func logError(c *gin.Context, err error) {
	requestID, _ := c.Get("request_id")
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logError(c, err)
	status, code := classify(err)
	response.Fail(c, status, code, err.Error())
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", appErr.ErrInvalid, err)
}
