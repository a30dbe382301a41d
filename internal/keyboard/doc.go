// Package keyboard implements the input session controller of the virtual
// keyboard overlay.
//
// A Controller alternates between waiting for the host to show a session
// and waiting for the user to submit it. While a session is shown it turns
// logical key, change, toggle and dictation events into state transitions
// and publishes State snapshots to observers. The finished value goes back
// to the host through Host.EndInput.
//
// Shift follows the value: it is on exactly when nothing is typed, after
// every change regardless of where the change came from.
package keyboard
