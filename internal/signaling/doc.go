// Package signaling carries the offer/answer and candidate exchange between
// browser clients and the broker.
//
// Clients connect over a WebSocket and speak a small JSON protocol keyed by a
// "command" field. The Transport admits a bounded number of clients, assigns
// each one an identifier, and hands decoded commands to a Dispatcher. Outbound
// answers and candidates are written back through Transport.Send.
package signaling
