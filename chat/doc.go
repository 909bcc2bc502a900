// Package chat turns raw Twitch chat events into anonymized display records.
//
// It provides:
//   - Event: the transport-neutral shape of one incoming chat message.
//   - Formatter: resolves the sender's pseudonym, maps held badges to image
//     URLs (dropping unknown ones) and renders the sent time as hour:minute.
//   - Renderer: the sink that appends formatted records, in order, to a log.
//   - TwitchTransport: a go-twitch-irc client adapted to deliver Events.
//
// The real display name travels on DisplayRecord for debug logging only; it is
// never serialized.
package chat
