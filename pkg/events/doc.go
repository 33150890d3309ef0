/*
Package events is the coordinator's tenant event broker.

Every state change the coordinator makes to a tenant (a new revision, a new
users snapshot) is published here once and fanned out to each connected
front-end. The broker keeps a single distribution loop, so events are
delivered to every subscriber in the order they were published.

	Publish ─▶ queue (100) ─▶ broadcast loop ─▶ subscriber (50 each) ─▶ /events socket

Subscribers carry a tenant filter matching the scope of the API key that
opened the connection.

# Slow subscribers

There are no acknowledgements and no replay. A subscriber whose buffer is
full is removed and its Dropped channel is closed; the /events handler then
closes the socket and the front-end reconnects, receiving a fresh
GoodMorning that subsumes whatever it missed. A subscriber that stays
connected never has an event skipped.

# Encoding

Event.Message encodes the TenantEvent wire message lazily and caches it, so
a revision package is serialized once no matter how many front-ends are
connected.
*/
package events
