// Package engine wires packetpool, decap, session, protocols, and writer
// together into the running capture process: reader goroutines that feed
// packets into per-thread shards, packet-thread loops that decap, classify,
// and persist each packet, and a main loop that drives periodic
// housekeeping and the SIGINT double-tap quiesce sequence (§4.H).
package engine

import "time"

// Clock is injected into the main loop and packet threads so tests can
// drive timeout/roll/refresh logic without waiting on a wall clock,
// generalized from "time of next packet" to every periodic decision the
// engine's main loop makes.
type Clock interface {
	Now() time.Time
}

// realClock delegates to time.Now, used in production.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns the production Clock.
func RealClock() Clock { return realClock{} }

// FakeClock is a settable Clock for deterministic tests.
type FakeClock struct {
	Current time.Time
}

func (f *FakeClock) Now() time.Time { return f.Current }

// Advance moves the fake clock forward by d.
func (f *FakeClock) Advance(d time.Duration) { f.Current = f.Current.Add(d) }
