package normalize

import "crmchat/server/internal/models"

// Conversation reads a conversation document. Timestamps go through Millis
// so server stamps, dates and numbers all land as unix milliseconds.
func Conversation(id string, d map[string]any) models.Conversation {
	c := models.Conversation{
		ID:              id,
		AssignedToUID:   firstStr(d, "assignedToUid"),
		AssignedToEmail: firstStr(d, "assignedToEmail"),
		Labels:          strs(d["labels"]),
		Stage:           firstStr(d, "stage"),
		ClientPhone:     firstStr(d, "clientPhone", "phone"),
		ContactName:     firstStr(d, "contactName", "clientName", "name"),
		LastInboundAt:   Millis(d["lastInboundAt"]),
		LastMessageAt:   Millis(d["lastMessageAt"]),
	}
	if c.Labels == nil {
		c.Labels = []string{}
	}
	return c
}

// TextField is the document key holding a text message's body in coll.
func TextField(coll models.Collection) string {
	if coll == models.CollectionMsgs {
		return "body"
	}
	return "text"
}
