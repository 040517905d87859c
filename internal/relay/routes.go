package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
)

// ServeWs returns an http.HandlerFunc that upgrades requests to relay clients.
func ServeWs(hub *Hub, allowedOrigins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(allowedOrigins, r.Header.Get("Origin"))
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("failed to upgrade connection", "err", err)
			return
		}

		client := NewClient(hub, uuid.NewString(), conn)
		if !hub.register(client) {
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}

// NewHandler wires the relay routes: /ws for signaling and /health for health checks.
func NewHandler(hub *Hub, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ServeWs(hub, allowedOrigins))
	mux.HandleFunc("/health", healthHandler(hub))

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	})
	return c.Handler(mux)
}

func healthHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := hub.RoomInfos(r.Context())
		if err != nil {
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}

		peers := 0
		for _, room := range rooms {
			peers += len(room.PeerIDs)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"rooms":  len(rooms),
			"peers":  peers,
		})
	}
}

// originAllowed accepts everything when no origins are configured, matching
// local development where the game is served from a file or another port.
func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}
