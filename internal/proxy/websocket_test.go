package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticTarget string

func (t staticTarget) DebuggerURL() string { return string(t) }

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// echoBrowser stands in for the DevTools endpoint
func echoBrowser(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
}

func TestRelaysMessages(t *testing.T) {
	browser := echoBrowser(t)
	defer browser.Close()

	srv := NewServer(staticTarget(wsURL(browser.URL)), zap.NewNop())
	front := httptest.NewServer(http.HandlerFunc(srv.HandleDebugConnection))
	defer front.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(front.URL), nil)
	require.NoError(t, err)
	defer conn.Close()

	payload := `{"id":1,"method":"Browser.getVersion"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, payload, string(msg))
}

func TestNoTarget(t *testing.T) {
	srv := NewServer(staticTarget(""), zap.NewNop())

	rr := httptest.NewRecorder()
	srv.HandleDebugConnection(rr, httptest.NewRequest(http.MethodGet, "/debug/ws", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
