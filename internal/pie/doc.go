// Package pie is the plugin runtime.
//
// A Pie is an extension unit: a namespace-qualified id, a semantic version,
// dependency ids, filters, lifecycle hooks, and message and event handlers. The
// Agent installs pies, in dependency order when given a batch, and tracks each
// one's enabled flag and resolved config in an Instance.
//
// Hooks are best effort. An error or panic from a hook is logged against the pie
// and never reaches the caller, so one faulty pie cannot stop another from
// installing.
package pie
