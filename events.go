package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// event is one server-to-client notification. The set is closed: every
// outbound payload is exactly one of the variants below.
type event interface {
	eventType() string
}

// backlogEvent carries the full comment log of an issue, delivered once to a
// connection right after it joins.
type backlogEvent struct {
	comments []comment
}

// commentEvent carries a single freshly persisted comment to a room member.
type commentEvent struct {
	comment comment
}

// authErrorEvent is delivered to a rejected connection before it is closed.
type authErrorEvent struct {
	reason string
}

// postErrorEvent is delivered only to the connection whose post failed.
type postErrorEvent struct {
	reason string
}

// backlogErrorEvent reports a failed backlog read at join time. The
// connection stays joined and keeps receiving live comments.
type backlogErrorEvent struct {
	reason string
}

func (backlogEvent) eventType() string      { return "backlog" }
func (commentEvent) eventType() string      { return "comment" }
func (authErrorEvent) eventType() string    { return "auth_error" }
func (postErrorEvent) eventType() string    { return "post_error" }
func (backlogErrorEvent) eventType() string { return "backlog_error" }

type commentDTO struct {
	ID         int64     `json:"id"`
	IssueID    string    `json:"issueId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toCommentDTO(cm comment) commentDTO {
	return commentDTO{
		ID:         cm.ID,
		IssueID:    cm.IssueID,
		AuthorID:   cm.AuthorID,
		AuthorName: cm.AuthorName,
		Body:       cm.Body,
		CreatedAt:  cm.CreatedAt,
	}
}

type backlogFrame struct {
	Type    string       `json:"type"`
	Backlog []commentDTO `json:"backlog"`
}

type commentFrame struct {
	Type    string     `json:"type"`
	Comment commentDTO `json:"comment"`
}

type errorFrame struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

type inboundFrame struct {
	Type string `json:"type"`
	Body string `json:"body,omitempty"`
}

func encodeEvent(evt event) ([]byte, error) {
	switch e := evt.(type) {
	case backlogEvent:
		dtos := make([]commentDTO, 0, len(e.comments))
		for _, cm := range e.comments {
			dtos = append(dtos, toCommentDTO(cm))
		}
		return json.Marshal(backlogFrame{Type: e.eventType(), Backlog: dtos})
	case commentEvent:
		return json.Marshal(commentFrame{Type: e.eventType(), Comment: toCommentDTO(e.comment)})
	case authErrorEvent:
		return json.Marshal(errorFrame{Type: e.eventType(), Code: e.reason})
	case postErrorEvent:
		return json.Marshal(errorFrame{Type: e.eventType(), Code: e.reason})
	case backlogErrorEvent:
		return json.Marshal(errorFrame{Type: e.eventType(), Code: e.reason})
	default:
		return nil, fmt.Errorf("unknown event type %T", evt)
	}
}
