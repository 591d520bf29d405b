// Package falconudp provides the reliability and ordering layer of a
// lightweight datagram protocol over UDP.
//
// Every remote [Peer] has four channels, one for each combination of the
// [SendOptionsReliable] and [SendOptionsInOrder] flags. The messages sent on a
// channel are packed into datagrams sharing a 16-bit sequence number, which the
// receiving side uses to drop out-of-range, duplicated and stale datagrams and to
// deliver the application packets in order. Reliable datagrams are acknowledged,
// but their retransmission is left to the application.
//
// An [Endpoint] drives a peer over a UDP connection.
package falconudp
