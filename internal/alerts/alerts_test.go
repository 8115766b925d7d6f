package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"alertbot/internal/storage"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newStore(t *testing.T) (*Store, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	return NewStore(storage.NewMemory(), Options{DefaultLocale: "en", Now: c.Now}), c
}

func TestPublishListExpire(t *testing.T) {
	ctx := context.Background()
	s, c := newStore(t)

	id, err := s.Publish(ctx, KindUpdate, map[string]string{"en": "v2 out"}, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got, err := s.ListActive(ctx, "en")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(got) != 1 || got[0].ID != id || got[0].Text != "v2 out" || got[0].Kind != KindUpdate {
		t.Fatalf("unexpected entries: %+v", got)
	}

	c.Advance(7 * 24 * time.Hour)
	got, _ = s.ListActive(ctx, "en")
	if len(got) != 0 {
		t.Fatalf("expired alert still listed: %+v", got)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired alert, got %v", err)
	}
}

func TestListActiveNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, c := newStore(t)
	first, _ := s.Publish(ctx, KindNews, map[string]string{"en": "one"}, 0)
	c.Advance(time.Minute)
	second, _ := s.Publish(ctx, KindNews, map[string]string{"en": "two"}, 0)

	got, err := s.ListActive(ctx, "en")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(got) != 2 || got[0].ID != second || got[1].ID != first {
		t.Fatalf("expected newest first, got %+v", got)
	}
}

func TestPublishValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	cases := []struct {
		name string
		kind Kind
		body map[string]string
	}{
		{"unknown kind", Kind("spam"), map[string]string{"en": "x"}},
		{"empty body", KindPromo, nil},
		{"blank text", KindPromo, map[string]string{"en": "   "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Publish(ctx, tc.kind, tc.body, 0); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestPublishPersistenceFailure(t *testing.T) {
	mem := storage.NewMemory()
	s := NewStore(mem, Options{})
	mem.FailWith(errors.New("disk full"))
	if _, err := s.Publish(context.Background(), KindEvent, map[string]string{"en": "x"}, 0); !errors.Is(err, storage.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	s, c := newStore(t)
	_, _ = s.Publish(ctx, KindPromo, map[string]string{"en": "short"}, time.Hour)
	keep, _ := s.Publish(ctx, KindPromo, map[string]string{"en": "forever"}, 0)

	c.Advance(2 * time.Hour)
	removed, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := s.Get(ctx, keep); err != nil {
		t.Fatalf("permanent alert removed: %v", err)
	}
}

func TestText(t *testing.T) {
	body := map[string]string{"ar": "عرض", "fr": "offre", "en": "offer"}
	cases := []struct {
		locale, def, want string
	}{
		{"ar", "en", "عرض"},
		{"en-US", "ar", "offer"},
		{"de", "fr", "offre"},
		{"de", "", "عرض"},
	}
	for _, tc := range cases {
		if got, ok := Text(body, tc.locale, tc.def); !ok || got != tc.want {
			t.Fatalf("Text(%q,%q) = %q, want %q", tc.locale, tc.def, got, tc.want)
		}
	}
	if _, ok := Text(nil, "en", "en"); ok {
		t.Fatalf("expected no text for empty body")
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(" Promo "); err != nil || k != KindPromo {
		t.Fatalf("ParseKind: %v %v", k, err)
	}
	if _, err := ParseKind("other"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
