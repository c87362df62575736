// Package relay shares one multicast socket per group among every process on
// the host.
//
// The first Client to find no Broker answering on the group's local channel
// spawns one, then redials with bounded backoff. The Broker owns the group
// socket, publishes every frame a client writes and fans every datagram it
// receives out to all connected clients. Once no client has been connected
// for two consecutive grace intervals the Broker exits on its own.
//
// Local channel frames are a 2-byte big-endian length followed by the
// payload:
//
//	+--------+--------+------------------+
//	| len hi | len lo | payload (1-4096) |
//	+--------+--------+------------------+
package relay
