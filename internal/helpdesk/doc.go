// Package helpdesk implements the help-desk operations shared by the web UI
// and the JSON API.
//
// # Viewers
//
// Every operation acts for a Viewer: the signed-in account, its profile, and
// two flags. IsAdmin is derived from the account email (admins use a real
// address, users get a synthetic one under the internal suffix). Verified
// comes from the profile; admins are always verified. A nil Viewer is an
// anonymous caller.
//
// # Users and PINs
//
// Users sign up with a display name and a 4-digit PIN. The name maps to an
// internal email by stripping whitespace and lowercasing, so "Mary Jane" and
// "maryjane" collide. The PIN is padded before hashing because bcrypt
// passwords and PINs share the accounts table. When the require_pin setting
// is off, picking a name from the login list is enough.
//
// # Access rules
//
//   - Only verified viewers may file tickets.
//   - Users see and message their own tickets; admins see all.
//   - Only admins change status, edit articles, verify users, and change
//     settings. Those actions are written to the audit log.
//   - Attachments are readable by admins, the uploader, and the owner of a
//     ticket that references them.
//
// # Side effects
//
// New tickets, new messages, and sign-ups notify admins. Messages and status
// changes are published to the events broadcaster for live ticket pages.
// Neither notification nor audit failures fail the operation; they are
// logged.
package helpdesk
