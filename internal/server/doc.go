// Package server implements the chat relay: a bounded table of encrypted
// connections, a broadcast relay that forwards each message to every other
// connection, and the accept loop and gateway that feed the table.
//
// The implementation is organized into specialized files for the connection
// table, relay, per-connection handlers, listeners, configuration, and the
// optional WebSocket gateway's routes and HTTP handlers.
package server
