// Package domain holds the core types and collaborator interfaces of the
// multiplexed live-query poller: identifiers, the diagnostic schema
// (PollDetails and friends), and the boundary contracts the core calls out
// to (Source, PostPollHook). It defines no behaviour of its
// own beyond simple constructors.
package domain
