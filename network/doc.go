// Package network provides ZeroMQ messaging between BioVault nodes.
//
// This package implements:
//   - Node: ROUTER/DEALER transport keyed by wallet address, with
//     transport-attested sender identities
//   - Broadcaster: periodic agent-discovery announcements
package network
