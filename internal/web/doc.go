// Package web serves the browser UI: server-rendered html/template pages
// with htmx-style partial updates driven by the embedded app.js.
//
// # Sessions
//
// Signing in sets an HttpOnly session cookie holding an opaque token that
// the helpdesk service resolves to a Viewer. Users pick their name (and a
// PIN when require_pin is on); admins use email and password, or a passkey
// once one is registered.
//
// # CSRF
//
// Every unsafe route runs behind the csrf middleware, which checks the
// csrf_token form field or the X-CSRF-Token header against the
// helpdesk_csrf cookie. The base layout puts the token in a csrf-token meta
// tag that app.js sends with every scripted request.
//
// # Partial requests
//
// app.js follows the htmx header conventions. Requests with HX-Request: true
// get only the page's "content" template, or
// a named partial (the message thread, the article list). Redirects become
// HX-Redirect responses so the whole page navigates.
//
// # Live updates
//
// GET /tickets/{id}/stream is a Server-Sent Events stream. New messages
// arrive as rendered HTML fragments ready to append; status changes arrive
// as JSON. A comment line is sent every 30 seconds to keep proxies from
// closing the connection.
package web
