// Package models defines the wire documents and shared types exchanged by
// members of a quorumd replica set: operation-log positions, member states,
// the replica-set configuration document, heartbeat and election argument
// bundles, and the response documents built by the topology coordinator.
//
// Everything in this package is serialization-facing. Field names on the
// JSON documents are part of the wire protocol and must not change.
package models
