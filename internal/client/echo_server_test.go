package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// echoServer is a minimal websocket endpoint for dial tests.
type echoServer struct {
	server *httptest.Server
	url    string
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(messageType, payload); err != nil {
				return
			}
		}
	}))
	return &echoServer{
		server: server,
		url:    "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func (s *echoServer) close() {
	s.server.Close()
}
