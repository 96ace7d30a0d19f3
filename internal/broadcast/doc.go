// Package broadcast fans session status messages out to subscribers without ever blocking the publisher.
//
// Each subscriber owns a bounded channel. When it falls behind, the oldest queued message is
// dropped and counted, so a slow client only loses its own history.
package broadcast
