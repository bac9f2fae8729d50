// Package srt moves transport streams over SRT (Secure Reliable
// Transport). Streams are received by accepting publishers (Server) or by
// pulling from a remote listener (Caller); every such connection becomes an
// ingest.Stream. Publish sends a stream to a remote listener.
package srt
