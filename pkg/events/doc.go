// Package events implements the bounded, non-blocking event broker that
// decouples the Raft node from its observers (cluster service, metrics,
// logging), per spec.md §9's "small typed listener interface ... never
// cyclic object references" guidance.
//
// A publisher calls Broker.Publish; a background loop fans the event out
// to every subscriber's buffered channel, dropping on a full buffer rather
// than blocking the Raft node.
package events
