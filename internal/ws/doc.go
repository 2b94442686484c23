// Package ws pushes the dashboard to browsers over WebSocket.
//
// A Hub sends the full dashboard to a client as soon as it connects, then
// again on every tick of Run and whenever Broadcast is called (the server
// calls it after a poll pass that recorded something). Each message is
//
//	{"event": "dashboard", "data": <GET /api/v1/dashboard payload>}
//
// Clients that cannot keep up are dropped. The upgrader accepts any origin;
// restrict origins at the reverse proxy. The server mounts the hub at
// /ws/dashboard.
package ws
