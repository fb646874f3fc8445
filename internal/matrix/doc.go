// Package matrix is the Matrix frontend.
//
// The bridge syncs as a bot account with an access token, relays text
// messages from allowed users and rooms, and answers in the room the message
// came from. A room is one conversation: its id is the session key, so a
// direct-message room maps to one user.
//
// Replies are sent as m.text with a Markdown-rendered HTML body when
// render_markdown is enabled. A typing notification is shown from the moment
// a message is accepted until the reply is sent.
//
// End-to-end encrypted rooms are not supported.
package matrix
