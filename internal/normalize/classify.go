package normalize

import (
	"strings"

	"crmchat/server/internal/models"
)

// agentSentinels are legacy from/author values meaning "the agent sent this"
var agentSentinels = map[string]bool{
	"me":    true,
	"agent": true,
}

// Classify resolves whether a raw message document was sent by the local
// agent. First match wins: an explicit direction field, then a from/author
// value equal to a sentinel or to self, otherwise inbound.
func Classify(data map[string]any, self models.Identity) (models.Direction, models.DirectionSource) {
	if dir := str(data, "direction"); dir != "" {
		switch strings.ToLower(dir) {
		case "out", "outbound", "outgoing":
			return models.DirectionOutbound, models.DirectionFromField
		}
		return models.DirectionInbound, models.DirectionFromField
	}

	for _, key := range []string{"from", "author"} {
		if isSelf(str(data, key), self) {
			return models.DirectionOutbound, models.DirectionFromIdentity
		}
	}

	return models.DirectionInbound, models.DirectionDefaulted
}

func isSelf(who string, self models.Identity) bool {
	who = strings.ToLower(strings.TrimSpace(who))
	if who == "" {
		return false
	}
	if agentSentinels[who] {
		return true
	}
	if self.UID != "" && who == strings.ToLower(self.UID) {
		return true
	}
	return self.Email != "" && who == strings.ToLower(self.Email)
}

// LastInboundAt returns the newest timestamp among inbound messages, or 0.
func LastInboundAt(msgs []models.Message) int64 {
	var last int64
	for _, m := range msgs {
		if m.Direction == models.DirectionInbound && m.Timestamp > last {
			last = m.Timestamp
		}
	}
	return last
}
