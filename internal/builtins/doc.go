// Package builtins provides the pies every bridge installs.
//
// # Pies
//
// pie.builtin.ping answers "/ping" with "pong" in the same window.
//
// pie.builtin.manager manages pies from chat:
//
//   - /pies lists installed pies and their state
//   - /pie enable <id> enables a pie
//   - /pie disable <id> disables a pie
//
// Enabling and disabling is limited to the account ids in the manager's
// "admins" config value.
//
// pie.builtin.greeter posts its "welcome" config value to a group whenever a
// member joins it. "{name}" in the text is replaced by the member's name.
package builtins
