// Package cpu models the single hardware thread that the kernel runs on.
//
// A [Core] owns the interrupt-enable flag, a pending count per interrupt
// request line, and the halt instruction. Devices (goroutines standing in for
// the PIT, the keyboard controller, and so on) call [Core.Raise] at any time,
// from any goroutine. Handlers are only ever delivered on the goroutine that
// owns the core, at one of the following safepoints:
//
//   - [Core.Enable] or [Core.Restore] transitioning the flag to enabled
//   - [Core.EnableAndHalt], which enables and sleeps until a request arrives
//   - [Core.Service], an explicit "an interrupt may land here" point
//
// This keeps the one-continuation-at-a-time property of the real machine,
// while still letting interrupt handlers run on top of (logically pausing)
// whatever the kernel was doing.
//
// Handlers run with interrupts disabled and never nest. A request raised
// while its line is being serviced is counted and delivered afterwards.
package cpu
