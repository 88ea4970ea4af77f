// Package server implements the WebSocket side of the room relay.
//
// The implementation is organized into specialized files: the Hub dispatches
// join, message and disconnect events against the room registry, Client owns a
// single WebSocket connection and its read/write pumps, and the remaining files
// cover configuration, logging, origin checks, routing and HTTP lifecycle.
package server
