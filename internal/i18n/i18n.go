// Package i18n translates user-facing bot strings.
//
// Catalogs are compiled in. Unknown locales fall back to the default
// locale, unknown keys fall back to the key itself.
package i18n

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/locales"
	"github.com/go-playground/locales/ar"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
)

// Keys used by the bot and the broadcast engine.
const (
	KeyWelcome      = "start.welcome"
	KeyNewAlert     = "alert.new"
	KeyReminder     = "alert.reminder"
	KeyExpired      = "alert.expired"
	KeyIgnored      = "alert.ignored"
	KeyDeleted      = "alert.deleted"
	KeyRemindLater  = "alert.remind_later"
	KeyInboxEmpty   = "inbox.empty"
	KeyInboxHeader  = "inbox.header"
	KeySubscribed   = "subscription.on"
	KeyUnsubscribed = "subscription.off"
	KeyTryAgain     = "error.try_again"
	KeyUnknown      = "error.unknown_command"
	KeyBtnOpen      = "btn.open"
	KeyBtnIgnore    = "btn.ignore"
	KeyBtnDelete    = "btn.delete"
	KeyBtnLater     = "btn.later"
	KeyBtnInbox     = "btn.inbox"
	KeyKindPrefix   = "kind."
)

const fallbackLocale = "en"

var catalogs = map[string]map[string]string{
	"en": {
		KeyWelcome:      "Welcome! You will receive announcements here. Use /inbox to see current alerts and /unsubscribe to stop them.",
		KeyNewAlert:     "🔔 New {0} alert. Open your inbox to read it.",
		KeyReminder:     "⏰ Reminder: you have an unread {0} alert.",
		KeyExpired:      "This alert has expired.",
		KeyIgnored:      "Alert ignored.",
		KeyDeleted:      "Alert deleted.",
		KeyRemindLater:  "OK, I will remind you later.",
		KeyInboxEmpty:   "Your inbox is empty.",
		KeyInboxHeader:  "📥 Inbox ({0})",
		KeySubscribed:   "You are subscribed to announcements.",
		KeyUnsubscribed: "You will no longer receive announcements.",
		KeyTryAgain:     "Something went wrong, please try again.",
		KeyUnknown:      "Unknown command. Try /inbox.",
		KeyBtnOpen:      "Open",
		KeyBtnIgnore:    "Ignore",
		KeyBtnDelete:    "Delete",
		KeyBtnLater:     "Remind me later",
		KeyBtnInbox:     "Inbox",

		KeyKindPrefix + "update":      "update",
		KeyKindPrefix + "promo":       "promo",
		KeyKindPrefix + "news":        "news",
		KeyKindPrefix + "maintenance": "maintenance",
		KeyKindPrefix + "event":       "event",
	},
	"ar": {
		KeyWelcome:      "أهلاً! ستصلك الإعلانات هنا. استخدم /inbox لعرض التنبيهات الحالية و /unsubscribe لإيقافها.",
		KeyNewAlert:     "🔔 تنبيه جديد ({0}). افتح صندوق الوارد لقراءته.",
		KeyReminder:     "⏰ تذكير: لديك تنبيه غير مقروء ({0}).",
		KeyExpired:      "انتهت صلاحية هذا التنبيه.",
		KeyIgnored:      "تم تجاهل التنبيه.",
		KeyDeleted:      "تم حذف التنبيه.",
		KeyRemindLater:  "حسناً، سأذكرك لاحقاً.",
		KeyInboxEmpty:   "صندوق الوارد فارغ.",
		KeyInboxHeader:  "📥 صندوق الوارد ({0})",
		KeySubscribed:   "أنت مشترك في الإعلانات.",
		KeyUnsubscribed: "لن تصلك الإعلانات بعد الآن.",
		KeyTryAgain:     "حدث خطأ، حاول مرة أخرى.",
		KeyUnknown:      "أمر غير معروف. جرّب /inbox.",
		KeyBtnOpen:      "فتح",
		KeyBtnIgnore:    "تجاهل",
		KeyBtnDelete:    "حذف",
		KeyBtnLater:     "ذكرني لاحقاً",
		KeyBtnInbox:     "الوارد",

		KeyKindPrefix + "update":      "تحديث",
		KeyKindPrefix + "promo":       "عرض",
		KeyKindPrefix + "news":        "أخبار",
		KeyKindPrefix + "maintenance": "صيانة",
		KeyKindPrefix + "event":       "فعالية",
	},
}

// Translator implements translate(locale, key).
type Translator struct {
	uni *ut.UniversalTranslator
	def string
}

// New builds a translator with every compiled-in catalog. defaultLocale must
// be one of them; an empty value selects "en".
func New(defaultLocale string) (*Translator, error) {
	supported := []locales.Translator{en.New(), ar.New()}
	def := strings.ToLower(strings.TrimSpace(defaultLocale))
	if def == "" {
		def = fallbackLocale
	}
	var fallback locales.Translator
	for _, l := range supported {
		if l.Locale() == def {
			fallback = l
		}
	}
	if fallback == nil {
		return nil, fmt.Errorf("unsupported default locale %q", defaultLocale)
	}

	uni := ut.New(fallback, supported...)
	for loc, cat := range catalogs {
		trans, ok := uni.GetTranslator(loc)
		if !ok {
			return nil, fmt.Errorf("locale %q not registered", loc)
		}
		for k, v := range cat {
			if err := trans.Add(k, v, false); err != nil {
				return nil, fmt.Errorf("add %s/%s: %w", loc, k, err)
			}
		}
	}
	return &Translator{uni: uni, def: def}, nil
}

// Default returns the configured default locale.
func (t *Translator) Default() string { return t.def }

// Normalize maps a client language tag ("en-US", "ar_EG") to a supported
// locale, or the default locale.
func (t *Translator) Normalize(locale string) string {
	l := strings.ToLower(strings.TrimSpace(locale))
	l = strings.ReplaceAll(l, "-", "_")
	if l == "" {
		return t.def
	}
	if _, ok := catalogs[l]; ok {
		return l
	}
	if i := strings.IndexByte(l, '_'); i > 0 {
		if _, ok := catalogs[l[:i]]; ok {
			return l[:i]
		}
	}
	return t.def
}

// T translates key for locale, substituting {0}, {1}, ... with params.
func (t *Translator) T(locale, key string, params ...string) string {
	if t == nil {
		return key
	}
	for _, loc := range []string{t.Normalize(locale), t.def} {
		trans, _ := t.uni.GetTranslator(loc)
		s, err := trans.T(key, params...)
		if err == nil {
			return s
		}
		if !errors.Is(err, ut.ErrUnknowTranslation) {
			break
		}
	}
	return key
}

// Kind translates an alert kind label.
func (t *Translator) Kind(locale, kind string) string {
	s := t.T(locale, KeyKindPrefix+kind)
	if s == KeyKindPrefix+kind {
		return kind
	}
	return s
}
