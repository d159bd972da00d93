// Package frame implements the ASTM E1381 (CLSI LIS01-A2) frame codec used on
// the laboratory-instrument serial link.
//
// A frame is the link-layer transfer unit:
//
//	STX FN text ETX|ETB C1 C2 CR LF
//
//   - STX (0x02): start of frame
//   - FN: frame number, ASCII '0'..'7', cycling 1,2,...,7,0,1,...
//   - text: up to 240 characters of a logical record
//   - ETX (0x03): last frame of a record, ETB (0x17): intermediate frame
//   - C1 C2: checksum, the modulo-256 sum of FN, text and ETX/ETB, as two
//     uppercase hex digits
//   - CR LF: frame trailer
//
// The package is a pure byte-level codec. It has no I/O and no state; the
// handshake, acknowledgement and retry logic live in the link package.
package frame
