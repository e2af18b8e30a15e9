/*
Package event provides the session event bus.

Components never call into the UI layer directly. They publish typed events
and whoever renders the session (the SSE endpoint, the CLI printer, tests)
subscribes.

# Event Types

Session events:
  - session.created: a runtime was built for a session
  - session.ended: the runtime and its session scope were discarded

Consent events:
  - consent.updated: the gate moved to a new status
  - consent.granted: fired once per session when consent is first granted

Transcript events:
  - message.created: a message was appended
  - message.updated: a placeholder or message was patched in place

Widget events:
  - widget.updated: a widget changed state; carries a user-facing message on failure
  - analysis.stale: a frame analysis response was discarded by the generation check

Artifact events:
  - artifact.chunk: a validated partial object, a completion, or a typed error

# Delivery

Publish calls each in-process subscriber in its own goroutine. PublishSync
calls them in the publisher's goroutine, which preserves ordering; the
transcript owner uses it so message.created always precedes the matching
message.updated.

Every event is also mirrored as JSON onto a watermill GoChannel under
Topic, with the event type and session id in the message metadata:

	msgs, err := bus.Stream(ctx)
	for msg := range msgs {
		if msg.Metadata.Get(event.MetaSession) == sessionID {
			forward(msg.Payload)
		}
		msg.Ack()
	}

# Subscriber Safety

Subscribers called through PublishSync must return quickly, must not
publish re-entrantly and must not take locks the publisher may hold. Use
a non-blocking channel send when handing events to another goroutine.
*/
package event
