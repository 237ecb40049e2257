package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/fluxhealth/channelengine/message"
	"github.com/labstack/echo/v4"
)

// SubmitResponse is the body of a successful message submission.
type SubmitResponse struct {
	MessageID        int64  `json:"messageId"`
	SelectedResponse string `json:"selectedResponse"`
}

// SubmitMessage dispatches one raw message body into the channel's
// pipeline, matching POST /channels/:id/messages.
func (h *Handlers) SubmitMessage(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "failed to read request body")
	}

	result, err := h.Eng.DispatchRawMessage(c.Request().Context(), c.Param("id"), raw, nil)
	if err != nil {
		return errJSON(c, http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, SubmitResponse{MessageID: result.MessageID, SelectedResponse: result.SelectedResponse})
}

// BatchRequest is the body of POST /channels/:id/messages/_batch: each
// element is dispatched as an independent raw message.
type BatchRequest struct {
	Messages []string `json:"messages"`
}

// SubmitBatch dispatches every message in the batch. If returnErrors is
// true, the first per-item failure aborts the batch with a 500; otherwise
// every item is attempted and the batch reports success (204) regardless
// of individual outcomes.
func (h *Handlers) SubmitBatch(c echo.Context) error {
	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid batch request")
	}
	returnErrors, _ := strconv.ParseBool(c.QueryParam("returnErrors"))

	ctx := c.Request().Context()
	channelID := c.Param("id")
	for _, raw := range req.Messages {
		if _, err := h.Eng.DispatchRawMessage(ctx, channelID, []byte(raw), nil); err != nil {
			if returnErrors {
				return errJSON(c, http.StatusInternalServerError, err.Error())
			}
			h.log.WithField("channel", channelID).WithError(err).Warn("batch item failed, continuing")
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// MessageResponse is the body of GET /channels/:id/messages/:messageId.
type MessageResponse struct {
	Message    message.Message            `json:"message"`
	Connectors []message.ConnectorMessage `json:"connectors"`
}

// GetMessage returns a message's header and per-destination connector rows.
func (h *Handlers) GetMessage(c echo.Context) error {
	st, err := h.store(c)
	if err != nil {
		return err
	}
	messageID, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid messageId")
	}

	msg, err := st.GetMessage(messageID)
	if err != nil {
		return errJSON(c, http.StatusNotFound, "message not found")
	}
	connectors, err := st.ListConnectorMessages(messageID)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: *msg, Connectors: connectors})
}

// RemoveMessage deletes a message and its connector/content rows.
func (h *Handlers) RemoveMessage(c echo.Context) error {
	st, err := h.store(c)
	if err != nil {
		return err
	}
	messageID, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid messageId")
	}
	if err := st.RemoveMessage(messageID); err != nil {
		return errJSON(c, http.StatusNotFound, "message not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// ReprocessMessage re-runs the channel's pipeline over a prior message's RAW
// content, stamping the result's OriginalID back to it.
func (h *Handlers) ReprocessMessage(c echo.Context) error {
	st, err := h.store(c)
	if err != nil {
		return err
	}
	messageID, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid messageId")
	}

	raw, err := st.GetContent(messageID, message.SourceMetaDataID, message.ContentRaw)
	if err != nil {
		return errJSON(c, http.StatusNotFound, "original raw content not found")
	}

	result, err := h.Eng.ReprocessMessage(c.Request().Context(), c.Param("id"), raw.Content, messageID)
	if err != nil {
		return errJSON(c, http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, SubmitResponse{MessageID: result.MessageID, SelectedResponse: result.SelectedResponse})
}
