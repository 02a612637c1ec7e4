// Package events fans out ticket activity to live viewers.
//
// The web UI opens one Server-Sent Events stream per ticket page. Each stream
// subscribes to a Broadcaster for that ticket; the helpdesk service publishes
// an Event whenever a message is sent or the status changes.
//
// Delivery is best effort. A subscriber that stops reading loses events once
// its buffer fills, and reloading the page restores the full thread from the
// store.
package events
