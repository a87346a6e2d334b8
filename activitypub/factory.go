package activitypub

import (
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/tusk/util"
)

// NewActivityID returns a fresh, globally unique activity id under baseURL:
// <baseURL>/activities/<32 hex chars>.
func NewActivityID(baseURL string) string {
	// crypto/rand does not fail on supported platforms
	hex, err := util.RandomHex(16)
	if err != nil {
		panic(fmt.Sprintf("activity id: %v", err))
	}
	return fmt.Sprintf("%s/activities/%s", strings.TrimSuffix(baseURL, "/"), hex)
}

func published() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func header(id, typ, actorURL string) Header {
	return Header{
		Context:   ContextActivityStreams,
		ID:        id,
		Type:      typ,
		Actor:     actorURL,
		Published: published(),
	}
}

// NewNote builds a Note attributed to the actor; noteURL serves as both
// its id and its url.
func NewNote(noteURL, actorURL, content, inReplyTo string, to, cc []string) *Note {
	if len(to) == 0 {
		to = []string{PublicCollection}
	}
	return &Note{
		ID:           noteURL,
		Type:         TypeNote,
		AttributedTo: actorURL,
		Content:      content,
		Published:    published(),
		To:           to,
		Cc:           cc,
		InReplyTo:    inReplyTo,
		URL:          noteURL,
	}
}

// NewCreate wraps a note. An empty to addresses the public collection.
func NewCreate(id, actorURL string, note *Note, to, cc []string) *Create {
	if len(to) == 0 {
		to = []string{PublicCollection}
	}
	return &Create{
		Header: header(id, TypeCreate, actorURL),
		To:     to,
		Cc:     cc,
		Object: note,
	}
}

func NewFollow(id, actorURL, targetActorURL string) *Follow {
	return &Follow{
		Header: header(id, TypeFollow, actorURL),
		Object: targetActorURL,
	}
}

// NewAccept embeds the full original Follow.
func NewAccept(id, actorURL string, follow *Follow) *Accept {
	return &Accept{
		Header: header(id, TypeAccept, actorURL),
		Object: ActivityRef(follow),
	}
}

// NewReject embeds the full original Follow.
func NewReject(id, actorURL string, follow *Follow) *Reject {
	return &Reject{
		Header: header(id, TypeReject, actorURL),
		Object: ActivityRef(follow),
	}
}

func NewLike(id, actorURL, objectURL string) *Like {
	return &Like{
		Header: header(id, TypeLike, actorURL),
		Object: objectURL,
	}
}

// NewAnnounce shares an object. An empty to addresses the public collection.
func NewAnnounce(id, actorURL, objectURL string, to, cc []string) *Announce {
	if len(to) == 0 {
		to = []string{PublicCollection}
	}
	return &Announce{
		Header: header(id, TypeAnnounce, actorURL),
		To:     to,
		Cc:     cc,
		Object: objectURL,
	}
}

// NewUndo embeds the full activity being reverted.
func NewUndo(id, actorURL string, original Activity) *Undo {
	return &Undo{
		Header: header(id, TypeUndo, actorURL),
		Object: ActivityRef(original),
	}
}

func NewDelete(id, actorURL string, object ObjectRef) *Delete {
	return &Delete{
		Header: header(id, TypeDelete, actorURL),
		Object: object,
	}
}
