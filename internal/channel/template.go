package channel

import (
	"regexp"
	"strconv"

	"crmchat/server/internal/models"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*(\d+)\s*\}\}`)

// CountPlaceholders returns how many parameters a template body declares,
// i.e. the highest {{n}} index it references.
func CountPlaceholders(body string) int {
	max := 0
	for _, m := range placeholderRe.FindAllStringSubmatch(body, -1) {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > max {
			max = n
		}
	}
	return max
}

// Template describes a provider-approved template
type Template struct {
	Name     string `yaml:"name" json:"name"`
	Language string `yaml:"language" json:"language"`
	Body     string `yaml:"body" json:"body"`
}

// ParamCount is the number of body parameters the template expects.
// Templates without a known body take the three standard parameters.
func (t Template) ParamCount() int {
	if t.Body == "" {
		return 3
	}
	return CountPlaceholders(t.Body)
}

// Builder constructs re-engagement template payloads
type Builder struct {
	Template     Template
	BusinessName string
	Sellers      *SellerDirectory
}

// Params returns the sanitized parameter list: contact name, seller name,
// business name, trimmed or padded to the template's declared count.
func (b *Builder) Params(contactName, sellerEmail string) []string {
	seller := DefaultSellerLabel
	if b.Sellers != nil {
		seller = b.Sellers.Name(sellerEmail)
	}
	return Fit([]string{contactName, seller, b.BusinessName}, b.Template.ParamCount())
}

// Build returns the template payload and the resolved seller name.
func (b *Builder) Build(contactName, sellerEmail string) (*models.TemplatePayload, string) {
	params := b.Params(contactName, sellerEmail)
	seller := ""
	if len(params) > 1 {
		seller = params[1]
	}
	return Payload(b.Template, params), seller
}

// Fit sanitizes values and sizes them to exactly n entries, using the
// zero-width placeholder for empty or missing ones.
func Fit(values []string, n int) []string {
	out := make([]string, n)
	for i := range out {
		if i < len(values) {
			out[i] = orPlaceholder(values[i])
		} else {
			out[i] = ZeroWidth
		}
	}
	return out
}

// Payload wraps params into the provider's template structure.
func Payload(t Template, params []string) *models.TemplatePayload {
	lang := t.Language
	if lang == "" {
		lang = "es"
	}
	p := &models.TemplatePayload{
		Name:     t.Name,
		Language: models.TemplateLanguage{Code: lang},
	}
	if len(params) == 0 {
		p.Components = []models.TemplateComponent{}
		return p
	}
	body := models.TemplateComponent{Type: "body"}
	for _, v := range params {
		body.Parameters = append(body.Parameters, models.TemplateParameter{Type: "text", Text: v})
	}
	p.Components = []models.TemplateComponent{body}
	return p
}
