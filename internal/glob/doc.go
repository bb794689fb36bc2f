// Package glob implements the batched file streaming endpoint. A single
// response carries a JSON line of matched names followed by every matched
// file's bytes back to back; the Content-Index header lists the segment
// lengths so the client can split the stream without in-band delimiters.
package glob
