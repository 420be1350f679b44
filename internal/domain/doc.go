// Package domain defines the core domain types for the lab topology and
// addressing engine.
//
// A Topology is the in-memory form of one declarative lab description:
// routers, the links they attach to, and their BGP peerings. It is built
// once per generation run and discarded after rendering; the artifacts on
// disk are the durable state.
//
// Assignments bind (router, link) pairs to concrete host addresses. A
// RewriteMapping pairs an old subnet with a new, equally-sized subnet and
// drives offset-preserving address substitution across rendered artifacts.
//
// Finding is a non-fatal lint diagnostic with a severity, the component it
// was observed in, and a human-readable message. Findings are accumulated
// and reported, never raised as errors.
package domain
