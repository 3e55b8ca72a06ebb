// Package chat holds the domain types shared by the server and the client:
// identities, persisted messages, the live events pushed over a connection,
// and the error kinds every component translates collaborator failures into.
package chat
