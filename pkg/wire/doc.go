// Package wire converts between the compact frames exchanged with the server
// and the records the rest of the client works with.
//
// Frames use single-letter keys. For the persistent response:
//
//	C  message id (resumption cursor)
//	M  array of message payloads
//	D  disconnect command
//	T  poll timed out
//	L  long poll delay in milliseconds
//	G  groups token (resumption cursor)
//
// D and T are presence flags: a frame carrying the key is flagged whatever the
// value is, including null or false. Hub invocations use H, M, A, I and S;
// hub results use S, R, I, E and T.
package wire
