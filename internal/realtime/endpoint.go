package realtime

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from another origin
	},
}

// ServeWS upgrades dashboard connections and registers them with the hub.
// With an empty secret the endpoint accepts anonymous clients.
//
//	wscat -c "ws://localhost:8080/ws?token={jwt_token}"
func ServeWS(hub *Hub, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := "anonymous"
		if secret != "" {
			token := r.URL.Query().Get("token")
			if token == "" {
				token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if token == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			claims, err := VerifyToken(token, []byte(secret))
			if err != nil {
				hub.logger.Warnw("rejected websocket token", "remote", r.RemoteAddr, "error", err)
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			if sub := claimString(claims, "sub"); sub != "" {
				userID = sub
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		client := NewClient(conn, hub, userID)
		hub.Register(client)
		hub.logger.Infow("dashboard connected", "user", userID, "remote", conn.RemoteAddr().String())

		go client.WritePump()
		client.ReadPump()
		hub.logger.Infow("dashboard disconnected", "user", userID)
	}
}
