// Package session wires the per-session orchestration core.
//
// A Service resolves durable session identities and keeps one live Runtime
// per open session. A Runtime owns everything scoped to that session:
//
//   - the consent Gate, whose one-shot granted latch starts lead research
//   - the research Coordinator and its trigger Deduplicator
//   - the Transcript owner that every producer appends to and patches
//   - the widget Set (voice, webcam, screen) over a client-pushed device
//   - one capture Loop per frame-producing widget, sharing a rolling
//     analysis context window
//   - the artifact Channel
//
// All of it lives in a fresh in-memory session scope. Ending the session
// closes the widgets, stops the loops, drains background work and drops the
// scope; the durable identity is kept.
//
// # Usage
//
//	svc := session.NewService(cfg, durable, bus, collaborators)
//	rt, created, err := svc.Open(ctx, id)
//	rt.HandleText(ctx, types.TextInput{Text: "search latest AI regulation news"})
//	rt.OpenWidget(ctx, types.WidgetScreen)
//	...
//	svc.End(ctx, rt.Session().ID)
package session
