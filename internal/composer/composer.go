// Package composer holds the outgoing message being written for one
// conversation and turns it into relay requests.
package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"crmchat/server/internal/channel"
	"crmchat/server/internal/metrics"
	"crmchat/server/internal/models"
	"crmchat/server/internal/normalize"

	"go.uber.org/zap"
)

var (
	ErrEmptyMessage = errors.New("composer: nothing to send")
	ErrNoRecipient  = errors.New("composer: conversation has no client phone")
)

// Sender delivers one request to the messaging relay
type Sender interface {
	Send(ctx context.Context, token string, req models.SendRequest) (models.SendResponse, error)
}

// Attachment is a media item queued with the draft
type Attachment struct {
	Kind     models.Kind `json:"kind"`
	Link     string      `json:"link,omitempty"`
	ID       string      `json:"id,omitempty"`
	Filename string      `json:"filename,omitempty"`
}

// State is a copy of what the composer currently holds
type State struct {
	ConversationID string              `json:"conversationId"`
	Draft          string              `json:"draft"`
	Attachments    []Attachment        `json:"attachments"`
	ReplyTo        *models.ReplyTarget `json:"replyTo,omitempty"`
}

// Outcome reports what a Send handed to the relay
type Outcome struct {
	Decision channel.Decision    `json:"decision"`
	Route    channel.Route       `json:"route"`
	Requests int                 `json:"requests"`
	Results  []models.SendResult `json:"results"`
}

// Composer owns the draft, attachments and reply target of the active
// conversation. Switching conversations discards all three.
type Composer struct {
	Sender   Sender
	Selector *channel.Selector
	Builder  *channel.Builder
	Self     models.Identity
	Log      *zap.Logger

	mu          sync.Mutex
	conv        models.Conversation
	lastInbound int64
	draft       string
	attachments []Attachment
	replyTo     *models.ReplyTarget
}

// SetConversation makes conv the active conversation. A different id
// resets the composer; the same id only refreshes the document.
func (c *Composer) SetConversation(conv models.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv.ID != c.conv.ID {
		c.resetLocked()
		c.lastInbound = 0
	}
	c.conv = conv
	if conv.LastInboundAt > c.lastInbound {
		c.lastInbound = conv.LastInboundAt
	}
}

// ObserveMessages folds loaded messages into the last inbound timestamp
// so the window is known even when the conversation document lags.
func (c *Composer) ObserveMessages(msgs []models.Message) {
	last := normalize.LastInboundAt(msgs)
	c.mu.Lock()
	if last > c.lastInbound {
		c.lastInbound = last
	}
	c.mu.Unlock()
}

func (c *Composer) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

// AddAttachment queues media. Only image, audio and document are accepted.
func (c *Composer) AddAttachment(a Attachment) error {
	switch a.Kind {
	case models.KindImage, models.KindAudio, models.KindDocument:
	default:
		return fmt.Errorf("composer: unsupported attachment kind %q", a.Kind)
	}
	if a.Link == "" && a.ID == "" {
		return fmt.Errorf("composer: attachment needs a link or media id")
	}
	c.mu.Lock()
	c.attachments = append(c.attachments, a)
	c.mu.Unlock()
	return nil
}

func (c *Composer) RemoveAttachment(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.attachments) {
		return
	}
	c.attachments = append(c.attachments[:i], c.attachments[i+1:]...)
}

func (c *Composer) SetReply(target *models.ReplyTarget) {
	c.mu.Lock()
	c.replyTo = target
	c.mu.Unlock()
}

// State returns a copy of the composer contents
func (c *Composer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		ConversationID: c.conv.ID,
		Draft:          c.draft,
		Attachments:    append([]Attachment{}, c.attachments...),
	}
	if c.replyTo != nil {
		r := *c.replyTo
		s.ReplyTo = &r
	}
	return s
}

// Window reports the current channel decision without sending
func (c *Composer) Window(force bool) channel.Decision {
	c.mu.Lock()
	last := c.lastInbound
	c.mu.Unlock()
	return c.selector().Decide(last, force)
}

// Send routes the composer contents through the channel selector and
// hands the resulting requests to the relay. The composer is cleared
// before the first request leaves; nothing is echoed locally, the sent
// message shows up once the store has it.
//
// Outside the service window the draft and attachments are replaced by
// the re-engagement template. force does the same inside the window.
func (c *Composer) Send(ctx context.Context, token string, force bool) (Outcome, error) {
	c.mu.Lock()
	conv, last := c.conv, c.lastInbound
	draft := strings.TrimSpace(c.draft)
	attachments := c.attachments
	replyTo := c.replyTo
	if conv.ClientPhone == "" {
		c.mu.Unlock()
		return Outcome{}, ErrNoRecipient
	}
	if draft == "" && len(attachments) == 0 && !force {
		c.mu.Unlock()
		return Outcome{}, ErrEmptyMessage
	}
	c.resetLocked()
	c.mu.Unlock()

	decision := c.selector().Decide(last, force)
	out := Outcome{Decision: decision, Route: decision.Route, Results: []models.SendResult{}}

	reqs, err := c.requests(conv, decision, draft, attachments, replyTo)
	if err != nil {
		return out, err
	}

	log := c.log()
	for _, req := range reqs {
		resp, err := c.Sender.Send(ctx, token, req)
		metrics.RelaySends.WithLabelValues(string(decision.Route), metrics.Result(err)).Inc()
		out.Requests++
		out.Results = append(out.Results, resp.Results...)
		if err != nil {
			log.Warn("Send failed",
				zap.String("conversation", conv.ID),
				zap.String("route", string(decision.Route)),
				zap.Error(err))
			return out, fmt.Errorf("composer: send: %w", err)
		}
	}
	log.Debug("Message sent",
		zap.String("conversation", conv.ID),
		zap.String("route", string(decision.Route)),
		zap.Int("requests", out.Requests))
	return out, nil
}

func (c *Composer) requests(conv models.Conversation, d channel.Decision, draft string, attachments []Attachment, replyTo *models.ReplyTarget) ([]models.SendRequest, error) {
	base := models.SendRequest{To: conv.ClientPhone, ConversationID: conv.ID}

	if d.TemplateRequired() {
		if c.Builder == nil {
			return nil, errors.New("composer: no re-engagement template configured")
		}
		tpl, seller := c.Builder.Build(conv.ContactName, c.Self.Email)
		req := base
		req.Template = tpl
		req.SellerName = seller
		return []models.SendRequest{req}, nil
	}

	var reqs []models.SendRequest
	if draft != "" {
		req := base
		req.Text = draft
		reqs = append(reqs, req)
	}
	for _, a := range attachments {
		req := base
		ref := &models.MediaRef{Link: a.Link, ID: a.ID}
		switch a.Kind {
		case models.KindImage:
			req.Image = ref
		case models.KindAudio:
			req.Audio = ref
		case models.KindDocument:
			ref.Filename = a.Filename
			req.Document = ref
		}
		reqs = append(reqs, req)
	}
	if replyTo != nil && len(reqs) > 0 {
		r := *replyTo
		reqs[0].ReplyTo = &r
	}
	return reqs, nil
}

func (c *Composer) resetLocked() {
	c.draft = ""
	c.attachments = nil
	c.replyTo = nil
}

func (c *Composer) selector() *channel.Selector {
	if c.Selector != nil {
		return c.Selector
	}
	return channel.NewSelector(channel.DefaultWindow)
}

func (c *Composer) log() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop()
}
