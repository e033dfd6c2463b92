// Package dispatch routes decoded messages between a transport.Link and
// the collaborators on each side.
//
// Firmware runs on the controller side: it decodes host requests, calls
// the object model, code executor, print tracker, height map store and
// lock manager, and encodes their answers.
// Host runs on the single-board computer: it sends requests, matches
// replies to them in order and forwards unsolicited firmware messages.
package dispatch
