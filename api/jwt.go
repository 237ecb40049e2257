// Package api exposes the channel engine's REST surface: channel lifecycle
// control, message submission, search, reprocess, remove, and encrypted
// export/import, gated by JWT bearer auth.
package api

import (
	"net/http"
	"time"

	"github.com/fluxhealth/channelengine/channel"
	eve "github.com/fluxhealth/channelengine/common"
	"github.com/fluxhealth/channelengine/engine"
	"github.com/fluxhealth/channelengine/message"
	"github.com/fluxhealth/channelengine/security"
	"github.com/fluxhealth/channelengine/trace"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

// MessageStore is the per-channel read/write surface the REST layer needs
// beyond what engine.Engine already exposes for lifecycle control.
type MessageStore interface {
	GetMessage(messageID int64) (*message.Message, error)
	InsertMessage(m *message.Message) error
	ListConnectorMessages(messageID int64) ([]message.ConnectorMessage, error)
	GetContent(messageID int64, metaDataID int, contentType message.ContentType) (*message.Content, error)
	PutContent(c *message.Content) error
	ListAllContent(messageID int64) ([]message.Content, error)
	RemoveMessage(messageID int64) error
	GetStatistics(metaDataID int, serverID string) (*message.Statistics, error)
	ResetStatistics() error
}

// ChannelStores resolves a channel ID to its MessageStore, letting the REST
// layer reach message data without depending on store.Store concretely.
type ChannelStores interface {
	Store(channelID string) (MessageStore, bool)
}

// Handlers holds the REST layer's dependencies.
type Handlers struct {
	Eng         *engine.Engine
	Stores      ChannelStores
	JWT         *security.JWTService
	ExportKey   []byte // AES-256 key (32 bytes) for the encrypted export envelope
	TraceReg    trace.Registry
	TraceDecode trace.Decoder
	log         *eve.ContextLogger
}

// NewHandlers builds a Handlers with its own component-scoped logger.
// exportKey must be 32 bytes (AES-256) if message export/import is used.
func NewHandlers(eng *engine.Engine, stores ChannelStores, jwt *security.JWTService, exportKey []byte) *Handlers {
	return &Handlers{Eng: eng, Stores: stores, JWT: jwt, ExportKey: exportKey, log: eve.NewContextLogger(nil, map[string]interface{}{"component": "api"})}
}

// WithTrace attaches cross-channel trace lookup to an existing Handlers,
// returning h for chaining. Tracing is optional: a Handlers without it
// still serves every other route, and the trace routes answer 501.
func (h *Handlers) WithTrace(reg trace.Registry, decode trace.Decoder) *Handlers {
	h.TraceReg = reg
	h.TraceDecode = decode
	return h
}

// SetupRoutes registers the public token endpoint, the JWT-protected
// channel/message routes, an internal API-key-gated group for
// cluster-to-cluster calls (e.g. a monitoring sidecar listing deployed
// channels without holding a user's bearer token), and a Basic
// Auth-gated ops group for human operators probing liveness. adminScope-gated
// routes additionally require an "admin" entry in the bearer token's scopes
// claim, checked via authorization.go's RequireScope.
func SetupRoutes(e *echo.Echo, h *Handlers, jwtSecret, internalAPIKey string, opsAuth BasicAuthConfig) {
	auth := e.Group("/auth")
	auth.POST("/token", h.GenerateToken)

	internal := e.Group("/internal")
	internal.Use(APIKeyAuth(internalAPIKey))
	internal.GET("/channels", h.ListChannels)

	ops := e.Group("/ops")
	ops.Use(BasicAuthMiddleware(opsAuth))
	ops.GET("/health", h.Health)

	protected := e.Group("/channels")
	protected.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey:  []byte(jwtSecret),
		TokenLookup: "header:Authorization:Bearer ",
	}))

	protected.GET("/:id/status", h.GetStatus)
	protected.POST("/:id/_deploy", h.Deploy)
	protected.POST("/:id/_undeploy", h.Undeploy)
	protected.POST("/:id/_start", h.Start)
	protected.POST("/:id/_stop", h.Stop)
	protected.POST("/:id/_pause", h.Pause)
	protected.POST("/:id/_resume", h.Resume)
	protected.POST("/:id/_halt", h.Halt)
	protected.POST("/:id/_resetStatistics", h.ResetStatistics, RequireScope("admin"))

	protected.POST("/:id/messages", h.SubmitMessage)
	protected.POST("/:id/messages/_batch", h.SubmitBatch)
	protected.GET("/:id/messages/:messageId", h.GetMessage)
	protected.DELETE("/:id/messages/:messageId", h.RemoveMessage)
	protected.POST("/:id/messages/:messageId/_reprocess", h.ReprocessMessage)
	protected.GET("/:id/messages/:messageId/_export", h.ExportMessage)
	protected.POST("/:id/messages/_import", h.ImportMessage)
	protected.GET("/:id/messages/:messageId/_trace/backward", h.GetBackwardTrace)
	protected.GET("/:id/messages/:messageId/_trace/forward", h.GetForwardTrace)
}

// TokenRequest is the body of POST /auth/token.
type TokenRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// TokenResponse is the body of a successful POST /auth/token.
type TokenResponse struct {
	Token string `json:"token"`
}

// GenerateToken issues a 24h bearer token for userID, for clients that
// authenticate out-of-band (the engine does not own a user store).
func (h *Handlers) GenerateToken(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request")
	}
	if req.UserID == "" {
		return errJSON(c, http.StatusBadRequest, "user_id is required")
	}

	token, err := h.JWT.GenerateToken(req.UserID, 24*time.Hour)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, "failed to generate token")
	}
	return c.JSON(http.StatusOK, TokenResponse{Token: token})
}

func errJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func (h *Handlers) channel(c echo.Context) (*channel.Channel, error) {
	ch, ok := h.Eng.Get(c.Param("id"))
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, map[string]string{"error": "channel not found"})
	}
	return ch, nil
}

func (h *Handlers) store(c echo.Context) (MessageStore, error) {
	st, ok := h.Stores.Store(c.Param("id"))
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, map[string]string{"error": "channel not found"})
	}
	return st, nil
}
