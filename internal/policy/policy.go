// Package policy decides who may read and write a conversation.
package policy

import (
	"strings"

	"crmchat/server/internal/models"
)

// Policy is built from configuration; admins see and write everything.
type Policy struct {
	admins map[string]struct{}
	// UnassignedReadable lets any agent read conversations nobody owns yet.
	UnassignedReadable bool
}

// New returns a policy with the given admin emails
func New(adminEmails []string, unassignedReadable bool) *Policy {
	p := &Policy{admins: make(map[string]struct{}, len(adminEmails)), UnassignedReadable: unassignedReadable}
	for _, e := range adminEmails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			p.admins[e] = struct{}{}
		}
	}
	return p
}

func (p *Policy) IsAdmin(id models.Identity) bool {
	if p == nil || id.Email == "" {
		return false
	}
	_, ok := p.admins[strings.ToLower(id.Email)]
	return ok
}

// CanRead gates the live message subscriptions of a conversation
func (p *Policy) CanRead(id models.Identity, conv models.Conversation) bool {
	if p.IsAdmin(id) || assignedTo(id, conv) {
		return true
	}
	return p != nil && p.UnassignedReadable && unassigned(conv)
}

// CanWrite gates sending, editing and deleting
func (p *Policy) CanWrite(id models.Identity, conv models.Conversation) bool {
	return p.IsAdmin(id) || assignedTo(id, conv)
}

func assignedTo(id models.Identity, conv models.Conversation) bool {
	if id.UID != "" && conv.AssignedToUID == id.UID {
		return true
	}
	return id.Email != "" && strings.EqualFold(conv.AssignedToEmail, id.Email)
}

func unassigned(conv models.Conversation) bool {
	return conv.AssignedToUID == "" && conv.AssignedToEmail == ""
}
