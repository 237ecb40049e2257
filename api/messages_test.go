package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fluxhealth/channelengine/message"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMessageReturnsHeaderAndConnectors(t *testing.T) {
	h, st := newTestHandlers()
	st.messages[1] = &message.Message{ID: 1, ChannelID: "chan-a"}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/channels/chan-a/messages/1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id", "messageId")
	c.SetParamValues("chan-a", "1")

	require.NoError(t, h.GetMessage(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetMessageUnknownChannelNotFound(t *testing.T) {
	h, _ := newTestHandlers()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/channels/missing/messages/1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id", "messageId")
	c.SetParamValues("missing", "1")

	err := h.GetMessage(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}

func TestRemoveMessageDeletesRow(t *testing.T) {
	h, st := newTestHandlers()
	st.messages[1] = &message.Message{ID: 1, ChannelID: "chan-a"}

	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/channels/chan-a/messages/1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id", "messageId")
	c.SetParamValues("chan-a", "1")

	require.NoError(t, h.RemoveMessage(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, st.removed, int64(1))
}

func TestRemoveMessageNotFound(t *testing.T) {
	h, _ := newTestHandlers()
	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/channels/chan-a/messages/99", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id", "messageId")
	c.SetParamValues("chan-a", "99")

	require.NoError(t, h.RemoveMessage(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitBatchReturnErrorsTrueAbortsOnFirstFailure(t *testing.T) {
	h, _ := newTestHandlers()
	e := echo.New()
	body := `{"messages":["a","b"]}`
	req := httptest.NewRequest(http.MethodPost, "/channels/chan-a/messages/_batch?returnErrors=true", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("chan-a")

	err := h.SubmitBatch(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSubmitBatchReturnErrorsFalseSucceedsDespiteFailures(t *testing.T) {
	h, _ := newTestHandlers()
	e := echo.New()
	body := `{"messages":["a","b"]}`
	req := httptest.NewRequest(http.MethodPost, "/channels/chan-a/messages/_batch?returnErrors=false", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("chan-a")

	require.NoError(t, h.SubmitBatch(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
