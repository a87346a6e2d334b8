package push

import "encoding/json"

const (
	DefaultIcon  = "/static/icon-192.png"
	DefaultBadge = "/static/badge-72.png"
)

// Payload is the JSON document a service worker receives.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
	Icon  string `json:"icon"`
	Badge string `json:"badge"`
}

// withDefaults fills the icon and badge when the caller left them empty.
func (p Payload) withDefaults() Payload {
	if p.Icon == "" {
		p.Icon = DefaultIcon
	}
	if p.Badge == "" {
		p.Badge = DefaultBadge
	}
	return p
}

// Encode returns the payload as JSON with defaults applied.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p.withDefaults())
}
