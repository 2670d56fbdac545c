// Package webhook receives signed task-status callbacks from the remote queue.
//
// The remote side posts {"task_id": "...", "status": "COMPLETED"} when a task
// reaches a terminal state. The body is authenticated with HMAC-SHA256 over the
// raw bytes using a pre-shared secret, then handed to the dispatcher, which
// releases the bridge the task held.
//
// # Configuration
//
//	webhook:
//	  enabled: true
//	  listen: "127.0.0.1:8081"
//	  endpoints:
//	    - path: /hooks/task-status
//	      secret: ${BRIDGEQ_WEBHOOK_SECRET}
//	      signature_header: X-Bridgeq-Signature-256
//	      max_body_size: 64KB
//
// # Responses
//
//   - 200 OK: status applied, body names the released bridge if any
//   - 400 Bad Request: malformed JSON, missing task_id, or non-terminal status
//   - 403 Forbidden: missing or invalid signature, never more detail
//   - 413 Payload Too Large: body exceeds max_body_size
package webhook
