package template

import (
	"encoding/json"
	"regexp"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// androidClickAction is required by the mobile client's notification router.
const androidClickAction = "FLUTTER_NOTIFICATION_CLICK"

// Renderer produces platform-specific payloads from the catalog. It performs
// no I/O and fails only on a missing template.
type Renderer struct {
	catalog *Catalog
}

func NewRenderer(catalog *Catalog) *Renderer {
	return &Renderer{catalog: catalog}
}

// Render builds the payload for one platform. Every `{key}` placeholder in
// the template's title/subtitle is replaced case-insensitively with the
// matching templateParams value; unmatched placeholders are left verbatim.
// The badge is always attached, zero included, since it is the authoritative
// unread count.
func (r *Renderer) Render(
	platform push.Platform,
	templateID string,
	templateParams map[string]string,
	additionalParams map[string]string,
	badge int,
) (push.Payload, error) {
	def, err := r.catalog.Lookup(templateID)
	if err != nil {
		return push.Payload{}, err
	}

	data := map[string]string{
		"template":   string(def.Raw),
		"templateId": templateID,
	}

	title, body := def.AndroidTitle, def.AndroidSubtitle
	if platform == push.PlatformIOS {
		title, body = def.IOSTitle, def.IOSSubtitle
	}

	if len(templateParams) > 0 {
		encoded, _ := json.Marshal(templateParams)
		data["templateParams"] = string(encoded)
		title = substitute(title, templateParams)
		body = substitute(body, templateParams)
	}

	for k, v := range additionalParams {
		data[k] = v
	}

	payload := push.Payload{
		Platform: platform,
		Title:    title,
		Body:     body,
		Badge:    badge,
		Data:     data,
	}
	if platform != push.PlatformIOS {
		payload.ClickAction = androidClickAction
	}
	return payload, nil
}

func substitute(text string, params map[string]string) string {
	if text == "" {
		return text
	}
	for key, value := range params {
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta("{"+key+"}"))
		text = re.ReplaceAllLiteralString(text, value)
	}
	return text
}
