package audit

// events.go holds every SQL query function for the deployment_events
// table, kept separate from audit.go's connection/migration concerns
// the same way the teacher split db.go (DDL) from deployments.go (DML).

import (
	"database/sql"
	"fmt"
)

// EventType enumerates the kinds of row this store records.
type EventType string

const (
	EventStaged        EventType = "staged"
	EventPhaseStarted  EventType = "phase_started"
	EventAgentAccepted EventType = "agent_accepted"
	EventAgentDeferred EventType = "agent_deferred"
	EventAgentRejected EventType = "agent_rejected"
	EventCompleted     EventType = "completed"
	EventFailed        EventType = "failed"
	EventCancelled     EventType = "cancelled"
	EventRollback      EventType = "rollback_proposed"
	EventRolledBack    EventType = "rolled_back"
)

// Event is one row of the audit log.
type Event struct {
	ID           int64
	DeploymentID string
	EventType    EventType
	Phase        string
	AgentKey     string
	Detail       string
	OccurredAt   string
}

// Record inserts one event row. occurred_at is left to the database's
// CURRENT_TIMESTAMP default rather than passed in, since this package
// has no reason to generate timestamps itself (spec's no-wall-clock-in-
// pure-logic convention applies equally to audit writes).
func (s *Store) Record(deploymentID string, eventType EventType, phase, agentKey, detail string) error {
	query := `
		INSERT INTO deployment_events (deployment_id, event_type, phase, agent_key, detail)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.connection.Exec(query, deploymentID, string(eventType), nullIfEmpty(phase), nullIfEmpty(agentKey), nullIfEmpty(detail)); err != nil {
		return fmt.Errorf("audit: record event for deployment %q: %w", deploymentID, err)
	}
	return nil
}

// ForDeployment returns every event recorded for deploymentID, oldest first.
func (s *Store) ForDeployment(deploymentID string) ([]Event, error) {
	query := `
		SELECT id, deployment_id, event_type, phase, agent_key, detail, occurred_at
		FROM deployment_events
		WHERE deployment_id = ?
		ORDER BY id ASC
	`
	rows, err := s.connection.Query(query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("audit: query events for deployment %q: %w", deploymentID, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var phase, agentKey, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.DeploymentID, &e.EventType, &phase, &agentKey, &detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("audit: scan event row: %w", err)
		}
		e.Phase = phase.String
		e.AgentKey = agentKey.String
		e.Detail = detail.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate event rows for deployment %q: %w", deploymentID, err)
	}
	return events, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
