package alerts

import (
	"fmt"
	"strings"
)

// Kind classifies an alert. It is a closed set; ParseKind guards every
// publish boundary.
type Kind string

const (
	KindUpdate      Kind = "update"
	KindPromo       Kind = "promo"
	KindNews        Kind = "news"
	KindMaintenance Kind = "maintenance"
	KindEvent       Kind = "event"
)

var Kinds = []Kind{KindUpdate, KindPromo, KindNews, KindMaintenance, KindEvent}

func (k Kind) Valid() bool {
	for _, v := range Kinds {
		if k == v {
			return true
		}
	}
	return false
}

func (k Kind) String() string { return string(k) }

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalid, s)
	}
	return k, nil
}
