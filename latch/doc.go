// Package latch provides a countdown latch: a gate that opens once a fixed
// number of ticks have been delivered and stays open until it is re-armed
// with Reset. Ticks may come from any number of goroutines without external
// locking; exactly one of them observes the zero crossing and runs the
// completion callback.
package latch
