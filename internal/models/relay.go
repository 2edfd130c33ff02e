package models

// SendRequest is the JSON body posted to the messaging relay
type SendRequest struct {
	To             string           `json:"to"`
	ConversationID string           `json:"conversationId,omitempty"`
	Text           string           `json:"text,omitempty"`
	Image          *MediaRef        `json:"image,omitempty"`
	Audio          *MediaRef        `json:"audio,omitempty"`
	Document       *MediaRef        `json:"document,omitempty"`
	Template       *TemplatePayload `json:"template,omitempty"`
	ReplyTo        *ReplyTarget     `json:"replyTo,omitempty"`
	SellerName     string           `json:"sellerName,omitempty"`
}

// MediaRef points at media either by public link or by provider media id
type MediaRef struct {
	Link     string `json:"link,omitempty"`
	ID       string `json:"id,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// TemplatePayload is a provider-approved template invocation
type TemplatePayload struct {
	Name       string              `json:"name"`
	Language   TemplateLanguage    `json:"language"`
	Components []TemplateComponent `json:"components"`
}

type TemplateLanguage struct {
	Code string `json:"code"`
}

type TemplateComponent struct {
	Type       string              `json:"type"`
	Parameters []TemplateParameter `json:"parameters"`
}

type TemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Params returns the text of every body parameter in order
func (t *TemplatePayload) Params() []string {
	if t == nil {
		return nil
	}
	var out []string
	for _, c := range t.Components {
		if c.Type != "body" {
			continue
		}
		for _, p := range c.Parameters {
			out = append(out, p.Text)
		}
	}
	return out
}

// SendResponse is the relay's reply
type SendResponse struct {
	OK      bool         `json:"ok"`
	Results []SendResult `json:"results"`
	Error   string       `json:"error,omitempty"`
}

// SendResult is the outcome for one recipient
type SendResult struct {
	To    string `json:"to"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}
