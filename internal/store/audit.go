// ABOUTME: Audit log entity and store methods for tracking administrative actions
// ABOUTME: Records which admin verified, closed, edited, or reconfigured what

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditVerifyUser      AuditAction = "verify_user"
	AuditCreateUser      AuditAction = "create_user"
	AuditTicketStatus    AuditAction = "ticket_status"
	AuditUpdateSetting   AuditAction = "update_setting"
	AuditCreateArticle   AuditAction = "create_article"
	AuditUpdateArticle   AuditAction = "update_article"
	AuditDeleteArticle   AuditAction = "delete_article"
	AuditCreateAdmin     AuditAction = "create_admin"
	AuditRegisterPasskey AuditAction = "register_passkey"
	AuditResetPassword   AuditAction = "reset_password"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID         string         // UUID v4
	ActorID    string         // account that performed the action
	Action     AuditAction    // what action was performed
	TargetType string         // "profile", "ticket", "setting", "article", "account"
	TargetID   string         // ID of the affected resource
	Timestamp  time.Time      // when it happened
	Detail     map[string]any // additional context
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	ActorID    string
	Action     AuditAction
	TargetType string
	TargetID   string
	Limit      int // max results (default 100, max 1000)
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	detailJSON, err := marshalDetail(e.Detail)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_log (audit_id, actor_id, action, target_type, target_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		e.ID,
		e.ActorID,
		string(e.Action),
		e.TargetType,
		e.TargetID,
		formatTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.ActorID,
		"action", e.Action,
		"target", e.TargetType+"/"+e.TargetID,
	)
	return nil
}

func marshalDetail(detail map[string]any) (*string, error) {
	if detail == nil {
		return nil, nil
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("marshaling audit detail: %w", err)
	}
	str := string(data)
	return &str, nil
}

const auditLogQuery = `
	SELECT audit_id, actor_id, action, target_type, target_id, ts, detail_json
	FROM audit_log
	WHERE (? = '' OR actor_id = ?)
	  AND (? = '' OR action = ?)
	  AND (? = '' OR target_type = ?)
	  AND (? = '' OR target_id = ?)
	ORDER BY ts DESC, rowid DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter criteria.
// Results are returned newest first.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	action := string(f.Action)

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		f.ActorID, f.ActorID,
		action, action,
		f.TargetType, f.TargetType,
		f.TargetID, f.TargetID,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var actionStr, tsStr string
		var detailJSON *string

		if err := rows.Scan(&e.ID, &e.ActorID, &actionStr, &e.TargetType, &e.TargetID, &tsStr, &detailJSON); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		e.Action = AuditAction(actionStr)
		if e.Timestamp, err = parseTime(tsStr); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling detail: %w", err)
			}
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return entries, nil
}
