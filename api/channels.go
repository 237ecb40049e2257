package api

import (
	"net/http"

	"github.com/fluxhealth/channelengine/message"
	"github.com/labstack/echo/v4"
)

// ListChannels returns every currently deployed channel ID, for internal
// callers (monitoring, cluster peers) gated by API key rather than a user
// bearer token.
func (h *Handlers) ListChannels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"channels": h.Eng.List()})
}

// Health reports liveness and the deployed channel count, for an operator
// dashboard or uptime check authenticating with HTTP Basic Auth rather
// than a bearer token.
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"channels": len(h.Eng.List()),
	})
}

// StatusResponse is the body of GET /channels/:id/status.
type StatusResponse struct {
	ChannelID  string               `json:"channelId"`
	Name       string               `json:"name"`
	State      string               `json:"state"`
	Statistics []message.Statistics `json:"statistics"`
}

// GetStatus reports the channel's current lifecycle state and its per-
// connector statistics snapshot.
func (h *Handlers) GetStatus(c echo.Context) error {
	ch, err := h.channel(c)
	if err != nil {
		return err
	}
	st, err := h.store(c)
	if err != nil {
		return err
	}

	resp := StatusResponse{ChannelID: ch.ID(), Name: ch.Name(), State: string(ch.State())}
	for metaDataID := 0; metaDataID <= statsLookaheadBound; metaDataID++ {
		stats, err := st.GetStatistics(metaDataID, ch.ServerID())
		if err != nil {
			break
		}
		if stats.Received == 0 && stats.Filtered == 0 && stats.Sent == 0 && stats.Error == 0 && stats.Queued == 0 {
			continue
		}
		resp.Statistics = append(resp.Statistics, *stats)
	}
	return c.JSON(http.StatusOK, resp)
}

// statsLookaheadBound caps how many metadata IDs GetStatus probes; real
// deployments rarely configure more destinations than this per channel.
const statsLookaheadBound = 64

// Deploy builds and registers the channel via the engine's configured
// Builder, matching POST /channels/:id/_deploy. An unrecognized channel ID
// is rejected by the Builder itself, not by this handler.
func (h *Handlers) Deploy(c echo.Context) error {
	startOnDeploy := c.QueryParam("start") == "true"
	if err := h.Eng.Deploy(c.Request().Context(), c.Param("id"), startOnDeploy); err != nil {
		return errJSON(c, http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Undeploy stops and removes the channel from the engine's registry.
func (h *Handlers) Undeploy(c echo.Context) error {
	if err := h.Eng.Undeploy(c.Request().Context(), c.Param("id")); err != nil {
		return errJSON(c, http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Start begins accepting inbound messages on the channel's source connector.
func (h *Handlers) Start(c echo.Context) error {
	ch, err := h.channel(c)
	if err != nil {
		return err
	}
	if err := ch.Start(c.Request().Context()); err != nil {
		return errJSON(c, http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Stop gracefully drains in-flight messages then stops the channel.
func (h *Handlers) Stop(c echo.Context) error {
	ch, err := h.channel(c)
	if err != nil {
		return err
	}
	if err := ch.Stop(c.Request().Context()); err != nil {
		return errJSON(c, http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Pause stops accepting new messages while in-flight work continues.
func (h *Handlers) Pause(c echo.Context) error {
	ch, err := h.channel(c)
	if err != nil {
		return err
	}
	if err := ch.Pause(c.Request().Context()); err != nil {
		return errJSON(c, http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Resume re-starts the source connector on a paused channel.
func (h *Handlers) Resume(c echo.Context) error {
	ch, err := h.channel(c)
	if err != nil {
		return err
	}
	if err := ch.Resume(c.Request().Context()); err != nil {
		return errJSON(c, http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Halt forces the channel stopped regardless of in-flight work.
func (h *Handlers) Halt(c echo.Context) error {
	ch, err := h.channel(c)
	if err != nil {
		return err
	}
	if err := ch.Halt(c.Request().Context()); err != nil {
		return errJSON(c, http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// ResetStatistics zeroes every counter for the channel; admin-scoped since
// it discards operational history.
func (h *Handlers) ResetStatistics(c echo.Context) error {
	st, err := h.store(c)
	if err != nil {
		return err
	}
	if err := st.ResetStatistics(); err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
