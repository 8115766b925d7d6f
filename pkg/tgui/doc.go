// Package tgui holds small Telegram UI helpers shared by the bot and the
// broadcast engine:
//   - callback data in the "scope:action:payload" form
//   - a platform-neutral inline keyboard builder and its telebot rendering
//   - rune-safe truncation for previews
package tgui
