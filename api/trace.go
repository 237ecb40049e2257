package api

import (
	"net/http"
	"strconv"

	"github.com/fluxhealth/channelengine/trace"
	"github.com/labstack/echo/v4"
)

// GetBackwardTrace walks from the named message up to its root, returning
// the chain root-first.
func (h *Handlers) GetBackwardTrace(c echo.Context) error {
	if h.TraceReg == nil {
		return errJSON(c, http.StatusNotImplemented, "tracing not configured")
	}
	messageID, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid messageId")
	}
	chain, err := trace.Backward(h.TraceReg, h.TraceDecode, c.Param("id"), messageID, 0)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, chain)
}

// GetForwardTrace builds the descendant tree rooted at the named message.
func (h *Handlers) GetForwardTrace(c echo.Context) error {
	if h.TraceReg == nil {
		return errJSON(c, http.StatusNotImplemented, "tracing not configured")
	}
	messageID, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid messageId")
	}
	node := trace.Forward(h.TraceReg, c.Param("id"), messageID, 0, 0)
	return c.JSON(http.StatusOK, node)
}
