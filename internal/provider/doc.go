// Package provider hosts the model-backed collaborators.
//
// Chat models come from eino-ext (Anthropic Claude, OpenAI and
// OpenAI-compatible endpoints, Volcengine ARK) and are registered in a
// Registry keyed by provider id. A model reference has the form
// "provider/model".
//
// On top of a chat model the package builds three collaborators used when
// analysis.backend is "model":
//
//   - FrameAnalyzer describes a captured webcam or screen frame, sending
//     the JPEG as an image part.
//   - URLAnalyzer fetches the linked pages, reduces them to markdown and
//     asks the model to answer the user's text against them.
//   - ArtifactGenerator streams model text and repairs the partial JSON
//     into growing object snapshots.
package provider
