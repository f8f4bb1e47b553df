// Package chat contains the chat observer and the content normalizer.
//
// The observer watches the mirrored chat container for inserted entries:
//   - Start resolves the container through an ordered list of selectors, falling back to
//     the document body, and attaches a subtree watcher.
//   - CheckHealth, run every five seconds by Run, re-resolves the primary container and
//     re-attaches when the page has swapped it during a re-render.
//   - Global enable/disable transitions start and stop observation.
//
// Every inserted element that is, or contains, a chat entry is normalized into an
// (author, text) pair and handed to the matching engine. Emote names and image alt
// text are appended to the visible text so emote-only messages remain matchable.
package chat
