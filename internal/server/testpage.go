package server

import (
	"fmt"
	"net/http"
)

// TestPageHandler serves an HTML page for trying the live channel by hand:
// paste a session token, connect, pick a peer and send.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>livechat test page</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>livechat test page</h1>

    <div id="status" class="status disconnected">Disconnected</div>
    <div id="online">Online: none</div>

    <div>
        <input type="text" id="tokenInput" placeholder="Session token">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="peerInput" placeholder="Peer id">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="events"></div>

    <script>
        let ws = null;
        const eventsDiv = document.getElementById('events');
        const onlineDiv = document.getElementById('online');
        const tokenInput = document.getElementById('tokenInput');
        const peerInput = document.getElementById('peerInput');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.margin = '5px 0';
            line.style.color = color || 'gray';
            line.textContent = text;
            eventsDiv.appendChild(line);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?token=' + encodeURIComponent(tokenInput.value));
            ws.onopen = function() { addLine('Connected'); updateStatus(true); };
            ws.onmessage = function(event) {
                const evt = JSON.parse(event.data);
                if (evt.type === 'getOnlineUsers') {
                    onlineDiv.textContent = 'Online: ' + (evt.data.join(', ') || 'none');
                } else if (evt.type === 'newMessage') {
                    addLine(evt.data.senderId + ': ' + (evt.data.text || evt.data.image), 'green');
                }
            };
            ws.onclose = function() { addLine('Connection closed'); updateStatus(false); ws = null; };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            const peer = peerInput.value.trim();
            if (!text || !peer) {
                return;
            }
            fetch('/api/messages/send/' + encodeURIComponent(peer), {
                method: 'POST',
                headers: {
                    'Content-Type': 'application/json',
                    'Authorization': 'Bearer ' + tokenInput.value
                },
                body: JSON.stringify({ text: text })
            }).then(function(res) {
                if (res.ok) {
                    addLine('You: ' + text, 'blue');
                    messageInput.value = '';
                } else {
                    addLine('Send failed: ' + res.status, 'red');
                }
            });
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
	_, _ = fmt.Fprint(w, html)
}
