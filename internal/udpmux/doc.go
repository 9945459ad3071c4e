// Package udpmux turns one UDP listening socket into a family of reliable,
// per-peer, byte-oriented streams. Acceptor classifies incoming datagrams by
// source address and dispatches them to PeerStream without an internal
// queue; ConnectClient is the dual client-side helper that dials a single
// remote.
package udpmux
