// Package mpegts decodes MPEG transport stream packets and reassembles the
// PES packets carried on a single PID.
//
// ParseHeader and ParseAdaptationField are pure decoders over a byte window.
// Assembler is the stateful part: it is fed one 188-byte packet at a time and
// reports, per packet, whether a PES unit started, continued, finished or was
// interrupted by packet loss.
package mpegts
