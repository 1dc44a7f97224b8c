// Package timeutil formats token lifetimes for display.
//
// # Usage
//
//	timeutil.FormatCountdown(95 * time.Second)                 // "1:35"
//	timeutil.Relative(time.Now().Add(2*time.Hour), time.Now()) // "2 hours from now"
package timeutil
