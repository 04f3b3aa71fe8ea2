package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errMissingEngine = errors.New("synchronization engine dependency required")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect cross-origin; admission control happens
	// after the upgrade, not at the origin check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Engine *Engine
	Logger *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the health route and the
// websocket endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{engine: deps.Engine, logger: logger}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/ws", handler.handleWebsocket)

	return router, nil
}

type httpHandler struct {
	engine *Engine
	logger *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleWebsocket(c *gin.Context) {
	params := ConnectParams{
		SessionID: c.Query("sessionId"),
		IsPrivate: c.Query("isPrivate") == "true",
		Password:  c.Query("password"),
		UserID:    c.Query("userId"),
	}

	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.engine.Serve(c.Request.Context(), sock, params, c.ClientIP())
}
