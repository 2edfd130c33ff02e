package normalize

import (
	"strings"

	"crmchat/server/internal/models"
)

// adapter maps one collection's document layout onto the canonical message.
// Direction is resolved separately by Classify.
type adapter func(rec models.Record) models.Message

var adapters = map[models.Collection]adapter{
	models.CollectionMessages: fromMessages,
	models.CollectionMsgs:     fromMsgs,
}

// Message normalizes a raw record into the canonical message shape.
func Message(rec models.Record, self models.Identity) models.Message {
	a, ok := adapters[rec.Collection]
	if !ok {
		a = fromMessages
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	m := a(rec)
	m.ID = rec.ID
	m.ConversationID = rec.ConversationID
	m.OriginCollection = rec.Collection
	m.Direction, m.DirectionSource = Classify(rec.Data, self)
	return m
}

// Messages normalizes a batch, preserving order.
func Messages(recs []models.Record, self models.Identity) []models.Message {
	out := make([]models.Message, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Message(rec, self))
	}
	return out
}

// fromMessages reads the current layout: nested media objects, "type"
// discriminator, "timestamp" server stamps.
func fromMessages(rec models.Record) models.Message {
	d := rec.Data
	m := models.Message{
		Timestamp: firstMillis(d, "timestamp", "createdAt", "ts"),
		Status:    status(first(d, "status")),
	}

	kind := kindOf(firstStr(d, "type", "kind"))
	c := models.Content{Kind: kind}

	switch kind {
	case models.KindImage, models.KindAudio, models.KindDocument:
		media := obj(d, string(kind))
		if media == nil {
			media = obj(d, "media")
		}
		c.URL = firstStr(media, "link", "url")
		if c.URL == "" {
			c.URL = firstStr(d, "mediaUrl", "url")
		}
		c.Caption = firstStr(media, "caption")
		if c.Caption == "" {
			c.Caption = firstStr(d, "caption", "text")
		}
		c.Filename = firstStr(media, "filename", "fileName")
	case models.KindLocation:
		c.Location = location(obj(d, "location"))
	case models.KindTemplate:
		t := obj(d, "template")
		c.TemplateName = firstStr(t, "name")
		c.TemplateParams = strs(first(t, "params", "parameters"))
		c.Text = firstStr(d, "text", "body")
	default:
		c.Text = text(first(d, "text", "body", "content"))
	}
	m.Content = c
	m.ReplyTarget = reply(obj(d, "replyTo"))
	return m
}

// fromMsgs reads the older flat layout: "kind" discriminator, "body",
// "mediaUrl", "lat"/"lng", "templateName" and numeric "ts".
func fromMsgs(rec models.Record) models.Message {
	d := rec.Data
	m := models.Message{
		Timestamp: firstMillis(d, "ts", "createdAt", "timestamp"),
		Status:    status(first(d, "status", "ack")),
	}

	mediaURL := firstStr(d, "mediaUrl", "url", "link")
	kind := kindOf(firstStr(d, "kind", "type"))
	switch {
	case kind == models.KindText && firstStr(d, "templateName") != "":
		kind = models.KindTemplate
	case kind == models.KindText && first(d, "lat", "latitude") != nil:
		kind = models.KindLocation
	}

	c := models.Content{Kind: kind}
	switch kind {
	case models.KindImage, models.KindAudio, models.KindDocument:
		c.URL = mediaURL
		c.Caption = firstStr(d, "caption", "body")
		c.Filename = firstStr(d, "fileName", "filename")
	case models.KindLocation:
		c.Location = location(d)
	case models.KindTemplate:
		c.TemplateName = firstStr(d, "templateName")
		c.TemplateParams = strs(first(d, "templateParams", "params"))
		c.Text = firstStr(d, "body", "text")
	default:
		c.Text = text(first(d, "body", "text", "content"))
	}
	m.Content = c

	if r := reply(obj(d, "replyTo")); r != nil {
		m.ReplyTarget = r
	} else if id := firstStr(d, "replyToId"); id != "" {
		m.ReplyTarget = &models.ReplyTarget{
			ID:   id,
			Type: firstStr(d, "replyToType"),
			Text: firstStr(d, "replyToText"),
		}
	}
	return m
}

func kindOf(s string) models.Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image", "photo", "sticker":
		return models.KindImage
	case "audio", "voice", "ptt":
		return models.KindAudio
	case "document", "file", "doc", "video":
		return models.KindDocument
	case "location":
		return models.KindLocation
	case "template":
		return models.KindTemplate
	}
	return models.KindText
}

func status(v any) models.Status {
	switch s := v.(type) {
	case string:
		switch strings.ToLower(s) {
		case "pending", "queued", "sending":
			return models.StatusPending
		case "sent":
			return models.StatusSent
		case "delivered":
			return models.StatusDelivered
		case "read", "seen", "played":
			return models.StatusRead
		case "error", "failed":
			return models.StatusError
		}
	case float64:
		// provider ack levels
		switch {
		case s < 0:
			return models.StatusError
		case s == 0:
			return models.StatusPending
		case s == 1:
			return models.StatusSent
		case s == 2:
			return models.StatusDelivered
		default:
			return models.StatusRead
		}
	}
	return ""
}

func reply(r map[string]any) *models.ReplyTarget {
	id := firstStr(r, "id")
	if id == "" {
		return nil
	}
	return &models.ReplyTarget{
		ID:   id,
		Type: firstStr(r, "type"),
		Text: firstStr(r, "text"),
	}
}

func location(d map[string]any) *models.Location {
	if d == nil {
		return nil
	}
	lat, okLat := number(first(d, "latitude", "lat"))
	lng, okLng := number(first(d, "longitude", "lng"))
	if !okLat || !okLng {
		return nil
	}
	return &models.Location{
		Latitude:  lat,
		Longitude: lng,
		Name:      firstStr(d, "name"),
		Address:   firstStr(d, "address"),
	}
}

// text accepts either a plain string or a {body: "..."} object.
func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		return firstStr(t, "body", "text")
	}
	return ""
}

func first(d map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := d[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstStr(d map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := str(d, k); s != "" {
			return s
		}
	}
	return ""
}

func firstMillis(d map[string]any, keys ...string) int64 {
	for _, k := range keys {
		if ms := Millis(d[k]); ms > 0 {
			return ms
		}
	}
	return 0
}

func str(d map[string]any, key string) string {
	s, _ := d[key].(string)
	return s
}

func obj(d map[string]any, key string) map[string]any {
	o, _ := d[key].(map[string]any)
	return o
}

func strs(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			switch p := x.(type) {
			case string:
				out = append(out, p)
			case map[string]any:
				out = append(out, firstStr(p, "text"))
			}
		}
		return out
	}
	return nil
}

// Timestamp returns the coerced ordering key of a raw record using the
// same field precedence as its collection's adapter.
func Timestamp(rec models.Record) int64 {
	if rec.Collection == models.CollectionMsgs {
		return firstMillis(rec.Data, "ts", "createdAt", "timestamp")
	}
	return firstMillis(rec.Data, "timestamp", "createdAt", "ts")
}
