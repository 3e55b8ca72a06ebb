// Package server implements the live side of livechat.
//
// The Hub is the connection registry and presence broadcaster, Client wraps a
// single authenticated websocket, Router pushes persisted messages to online
// recipients, and App exposes the HTTP API and the websocket handshake.
package server
