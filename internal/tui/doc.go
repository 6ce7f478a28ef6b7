// Package tui renders a live dashboard for a running bench: a spinner, a
// progress bar over the planned requests, and running coalescing counters.
package tui
