package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"market_feed_backend/middleware"
	"market_feed_backend/models"
	"market_feed_backend/services/broadcast"
	"market_feed_backend/services/registry"
)

func startServer(t *testing.T, maxClients int) (*registry.Registry, string) {
	t.Helper()

	reg := registry.New(clockwork.NewRealClock())
	svc := NewService(reg, maxClients, zap.NewNop().Sugar())
	server := httptest.NewServer(http.HandlerFunc(svc.HandleWebSocket))
	t.Cleanup(func() {
		reg.CloseAll()
		server.Close()
	})

	return reg, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSubscriberReceivesBroadcast(t *testing.T) {
	reg, url := startServer(t, 10)

	conn := dial(t, url+"?type=stocks")
	require.Eventually(t, func() bool { return reg.Count(models.FeedStocks) == 1 }, time.Second, 10*time.Millisecond)

	d := broadcast.NewDispatcher(reg, zap.NewNop().Sugar())
	delivered, err := d.Send(models.FeedStocks, []models.Quote{{Symbol: "AAPL", Price: 10}})
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(message), `"symbol":"AAPL"`)
}

func TestInvalidFeedTypeIsRejected(t *testing.T) {
	for _, query := range []string{"", "?type=crypto"} {
		reg, url := startServer(t, 10)

		conn := dial(t, url+query)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := conn.ReadMessage()

		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.CloseUnsupportedData), "got %v", err)
		assert.Zero(t, reg.Len())
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	reg, url := startServer(t, 10)

	conn := dial(t, url+"?type=news")
	require.Eventually(t, func() bool { return reg.Count(models.FeedNews) == 1 }, time.Second, 10*time.Millisecond)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	require.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCapacityLimit(t *testing.T) {
	reg, url := startServer(t, 1)

	dial(t, url+"?type=stocks")
	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?type=stocks", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestCloseSendsGoingAway(t *testing.T) {
	reg, url := startServer(t, 10)

	conn := dial(t, url+"?type=stocks")
	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 10*time.Millisecond)

	reg.CloseAll()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestConnectLogsTokenSubject(t *testing.T) {
	gin.SetMode(gin.TestMode)
	const secret = "ws-secret"

	core, logs := observer.New(zapcore.InfoLevel)
	reg := registry.New(clockwork.NewRealClock())
	svc := NewService(reg, 10, zap.New(core).Sugar())

	router := gin.New()
	router.GET("/ws", middleware.JWTAuthMiddleware(secret), func(c *gin.Context) {
		svc.HandleWebSocket(c.Writer, c.Request)
	})
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		reg.CloseAll()
		server.Close()
	})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.FeedClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	dial(t, "ws"+strings.TrimPrefix(server.URL, "http")+"/ws?type=news&token="+token)

	require.Eventually(t, func() bool {
		return logs.FilterMessage("WebSocket client connected").Len() == 1
	}, time.Second, 10*time.Millisecond)
	fields := logs.FilterMessage("WebSocket client connected").All()[0].ContextMap()
	assert.Equal(t, "user-7", fields["subject"])
	assert.Equal(t, "news", fields["feed"])
}
