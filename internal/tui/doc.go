// Package tui is the terminal front end: a bubbletea program that shows the
// five dashboard views and implements render.Views.
//
// The render scheduler never talks to the program directly. Projections land
// in a Mailbox (non-blocking, coalescing) and the model drains it on its own
// goroutine. Bus events (connection state, command results) are forwarded
// with program.Send.
package tui
