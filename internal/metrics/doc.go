// Package metrics exports Prometheus metrics for the helpdesk server.
//
// All collectors live on a caller-supplied registry (see NewRegistry), which
// keeps tests isolated from the global default registry. Exported series:
//
//	helpdesk_http_requests_total{method,route,status}
//	helpdesk_http_request_duration_seconds{method,route}
//	helpdesk_tickets_created_total{priority}
//	helpdesk_messages_sent_total
//	helpdesk_logins_total{kind,result}
//	helpdesk_signups_total
//	helpdesk_live_streams
package metrics
