// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, relay statistics, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Tyrowin/roomrelay/internal/session"
)

// RequireSession runs the session boundary in front of next. Rejected
// requests get 401 and never reach next; admitted ones carry their identity
// in the request context.
func (s *Server) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.auth.Authenticate(r)
		if err != nil {
			s.metrics.AdmissionRejected()
			s.log.Warn("admission rejected", "addr", r.RemoteAddr, "err", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithIdentity(r.Context(), identity)))
	})
}

// WebSocketHandler upgrades an admitted request to WebSocket and registers
// it with the hub. It must be served behind RequireSession; requests without
// an identity get 401 and leave no state behind.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	identity, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr, identity, s.cfg)

	// The hub starts the pump goroutines once the client is admitted.
	if err := s.hub.Register(client); err != nil {
		s.log.Warn("hub refused connection", "addr", r.RemoteAddr, "err", err)
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Room relay is running!")
}

// StatsResponse is the body served by StatsHandler.
type StatsResponse struct {
	Rooms       int            `json:"rooms"`
	Connections int            `json:"connections"`
	Members     int            `json:"members"`
	RoomSizes   map[string]int `json:"roomSizes"`
}

// StatsHandler reports live room and connection counts as JSON.
func (s *Server) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	rooms, connections, members := s.hub.Stats()
	resp := StatsResponse{
		Rooms:       rooms,
		Connections: connections,
		Members:     members,
		RoomSizes:   s.hub.Registry().Rooms(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn("error writing stats response", "err", err)
	}
}

// TestPageHandler serves an HTML page for joining rooms and exchanging
// messages against the WebSocket endpoint from a browser.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPageHTML)
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Room Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Room Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>
    <div>Socket: <span id="sid">-</span></div>

    <div>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="roomInput" placeholder="Room name..." disabled>
        <button id="joinButton" onclick="joinRoom()" disabled>Join</button>
        <button id="leaveButton" onclick="leaveRoom()" disabled>Leave</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const inputs = ['roomInput', 'joinButton', 'leaveButton', 'messageInput', 'sendButton']
            .map(id => document.getElementById(id));
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');
        const sidSpan = document.getElementById('sid');

        function addMessage(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            inputs.forEach(el => el.disabled = !connected);
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
            if (!connected) sidSpan.textContent = '-';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws' + location.search);
            ws.onopen = () => { addMessage('Connected'); updateStatus(true); };
            ws.onmessage = (event) => {
                const data = JSON.parse(event.data);
                if (data.event === 'connected') {
                    sidSpan.textContent = data.sid;
                } else if (data.event === 'receive-message') {
                    addMessage(data.sid + ': ' + data.message, 'green');
                } else if (data.event === 'error') {
                    addMessage('Error: ' + data.error, 'red');
                }
            };
            ws.onclose = () => { addMessage('Connection closed'); updateStatus(false); ws = null; };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function send(frame) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(frame));
            }
        }

        function joinRoom() {
            const room = document.getElementById('roomInput').value;
            send({ event: 'join-room', room: room });
            addMessage('Joining ' + room);
        }

        function leaveRoom() {
            send({ event: 'leave-room' });
            addMessage('Left room');
        }

        function sendMessage() {
            const input = document.getElementById('messageInput');
            const message = input.value.trim();
            if (!message) return;
            send({ event: 'message', message: message });
            addMessage('You: ' + message, 'blue');
            input.value = '';
        }

        document.getElementById('messageInput').addEventListener('keypress', (e) => {
            if (e.key === 'Enter') sendMessage();
        });
    </script>
</body>
</html>`
