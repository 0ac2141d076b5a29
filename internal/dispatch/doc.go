// Package dispatch routes inbound items from an adapter to the enabled pies.
//
// For a chat message the router builds a Window and a private Chain copy per
// pie, AND-evaluates that pie's filters, and starts the pie's message handler in
// a new goroutine when all match. Events skip filtering and go to every enabled
// pie's event handler. A failing filter or handler is logged against its pie and
// never affects another.
package dispatch
