package activitypub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

const (
	ContextActivityStreams = "https://www.w3.org/ns/activitystreams"
	ContextSecurity        = "https://w3id.org/security/v1"

	// PublicCollection addresses an activity to everyone.
	PublicCollection = "https://www.w3.org/ns/activitystreams#Public"

	ContentType = "application/activity+json"
)

const (
	TypeCreate   = "Create"
	TypeFollow   = "Follow"
	TypeAccept   = "Accept"
	TypeReject   = "Reject"
	TypeLike     = "Like"
	TypeAnnounce = "Announce"
	TypeUndo     = "Undo"
	TypeDelete   = "Delete"
	TypeNote     = "Note"
	TypePerson   = "Person"
	TypeMention  = "Mention"
)

var (
	ErrUnsupportedActivity = errors.New("unsupported activity type")
	ErrMalformedActivity   = errors.New("malformed activity")
)

// Activity is one of the supported activity variants: *Create, *Follow,
// *Accept, *Reject, *Like, *Announce, *Undo or *Delete.
type Activity interface {
	ActivityID() string
	ActivityType() string
	ActorURL() string
	activity()
}

// Header holds the fields every activity carries.
type Header struct {
	Context   interface{} `json:"@context,omitempty"`
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Actor     string      `json:"actor"`
	Published string      `json:"published,omitempty"`
}

func (h *Header) ActivityID() string   { return h.ID }
func (h *Header) ActivityType() string { return h.Type }
func (h *Header) ActorURL() string     { return h.Actor }

type Create struct {
	Header
	To     []string `json:"to,omitempty"`
	Cc     []string `json:"cc,omitempty"`
	Object *Note    `json:"object"`
}

type Follow struct {
	Header
	Object string `json:"object"`
}

type Accept struct {
	Header
	Object ObjectRef `json:"object"`
}

type Reject struct {
	Header
	Object ObjectRef `json:"object"`
}

type Like struct {
	Header
	Object string `json:"object"`
}

type Announce struct {
	Header
	To     []string `json:"to,omitempty"`
	Cc     []string `json:"cc,omitempty"`
	Object string   `json:"object"`
}

type Undo struct {
	Header
	Object ObjectRef `json:"object"`
}

type Delete struct {
	Header
	Object ObjectRef `json:"object"`
}

func (*Create) activity()   {}
func (*Follow) activity()   {}
func (*Accept) activity()   {}
func (*Reject) activity()   {}
func (*Like) activity()     {}
func (*Announce) activity() {}
func (*Undo) activity()     {}
func (*Delete) activity()   {}

// Follow returns the wrapped Follow, or nil when only its id was sent.
func (a *Accept) Follow() *Follow { return a.Object.follow() }

// Follow returns the wrapped Follow, or nil when only its id was sent.
func (r *Reject) Follow() *Follow { return r.Object.follow() }

// Note is a short post.
type Note struct {
	Context      interface{} `json:"@context,omitempty"`
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	AttributedTo string      `json:"attributedTo"`
	Content      string      `json:"content"`
	Published    string      `json:"published"`
	To           []string    `json:"to,omitempty"`
	Cc           []string    `json:"cc,omitempty"`
	InReplyTo    string      `json:"inReplyTo,omitempty"`
	URL          string      `json:"url,omitempty"`
	Tag          []Tag       `json:"tag,omitempty"`
}

type Tag struct {
	Type string `json:"type"`
	Href string `json:"href"`
	Name string `json:"name"`
}

// ObjectRef is an activity object that is either a bare URL or an
// embedded object. Embedded activities and notes are decoded; any other
// embedded object is kept raw.
type ObjectRef struct {
	ID       string
	Activity Activity
	Note     *Note
	Raw      json.RawMessage
}

// URLRef references an object by its id only.
func URLRef(u string) ObjectRef {
	return ObjectRef{ID: u}
}

// ActivityRef embeds a full activity. A nil activity, typed or not, gives
// an empty ref.
func ActivityRef(a Activity) ObjectRef {
	if isNilActivity(a) {
		return ObjectRef{}
	}
	return ObjectRef{ID: a.ActivityID(), Activity: a}
}

func isNilActivity(a Activity) bool {
	if a == nil {
		return true
	}
	v := reflect.ValueOf(a)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// IsEmbedded reports whether the object was sent inline.
func (r ObjectRef) IsEmbedded() bool {
	return r.Activity != nil || r.Note != nil || len(r.Raw) > 0
}

func (r ObjectRef) follow() *Follow {
	if f, ok := r.Activity.(*Follow); ok {
		return f
	}
	return nil
}

func (r ObjectRef) MarshalJSON() ([]byte, error) {
	switch {
	case r.Activity != nil:
		return json.Marshal(r.Activity)
	case r.Note != nil:
		return json.Marshal(r.Note)
	case len(r.Raw) > 0:
		return r.Raw, nil
	default:
		return json.Marshal(r.ID)
	}
}

func (r *ObjectRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ObjectRef{}
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = ObjectRef{ID: id}
		return nil
	}

	var head struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	ref := ObjectRef{ID: head.ID}
	switch head.Type {
	case TypeNote:
		var n Note
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		ref.Note = &n
	default:
		a, err := decodeActivity(head.Type, data)
		if errors.Is(err, ErrUnsupportedActivity) {
			ref.Raw = append(json.RawMessage(nil), data...)
		} else if err != nil {
			return err
		} else {
			ref.Activity = a
		}
	}
	*r = ref
	return nil
}

// ParseActivity decodes a supported activity. Unknown types yield
// ErrUnsupportedActivity; a missing id or actor yields ErrMalformedActivity.
func ParseActivity(raw []byte) (Activity, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedActivity, err)
	}

	a, err := decodeActivity(head.Type, raw)
	if err != nil {
		return nil, err
	}
	if a.ActivityID() == "" || a.ActorURL() == "" {
		return nil, fmt.Errorf("%w: missing id or actor", ErrMalformedActivity)
	}
	return a, nil
}

func decodeActivity(typ string, raw []byte) (Activity, error) {
	var a Activity
	switch typ {
	case TypeCreate:
		a = &Create{}
	case TypeFollow:
		a = &Follow{}
	case TypeAccept:
		a = &Accept{}
	case TypeReject:
		a = &Reject{}
	case TypeLike:
		a = &Like{}
	case TypeAnnounce:
		a = &Announce{}
	case TypeUndo:
		a = &Undo{}
	case TypeDelete:
		a = &Delete{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedActivity, typ)
	}
	if err := json.Unmarshal(raw, a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedActivity, err)
	}
	return a, nil
}
