// Package decode converts raw exchange payloads into normalized events.
//
// Each exchange gets one Decoder adapter; everything downstream of
// decoding speaks the closed Event vocabulary (snapshot or delta) and
// never branches on raw payload shape. Decoders are pure mapping
// functions with no side effects, so they unit-test directly against
// recorded payload fixtures.
package decode
