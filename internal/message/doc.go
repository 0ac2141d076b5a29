// Package message models the items a gateway delivers to the bot.
//
// Every inbound item is a JSON object with a "type" tag. Tags ending in
// "Message" are chat messages carrying a sender and a message chain; tags found
// in the known-event table are events. Anything else is unknown and dropped by
// the adapters.
//
// Chat messages are exposed to plugins through two value types: Window, the
// conversation the message arrived in, and Chain, the ordered fragments. Both are
// copies, so a plugin cannot change what another plugin observes.
package message
