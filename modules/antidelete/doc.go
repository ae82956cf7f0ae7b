// Package antidelete keeps a bounded window of recently seen messages and
// their media so deletions can be reported to the owner or replayed in the
// chat, and intercepts view-once media before it disappears.
//
// The module is driven by two subscriptions. message.created events flow
// through the capture pipeline, which either dispatches view-once media
// immediately or records the message in the capture cache. message.retracted
// events flow through the revocation handler, which reports the cached
// record according to the configured mode and then drops it together with
// its media file.
//
// Feature switches live in the settings store and are read through a short
// TTL cache. Owner toggle commands (.antidelete, .antiviewonce) write through
// the same cache so changes apply to the next message.
package antidelete
