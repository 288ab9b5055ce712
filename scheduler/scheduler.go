package scheduler

// Package scheduler drives the feed pipeline. It handles:
// - the periodic fetch, publish, consume and broadcast cycle
// - the immediate cycle when the first subscriber connects
// - the long-interval snapshot poller
//
// Cycle logic lives in cycle.go, the poller in snapshot.go and the gocron
// wiring in jobs.go
