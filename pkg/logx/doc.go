// Package logx is alertbot's structured logging on top of zerolog.
//
// Console output is human readable with a short caller, the log file is JSON
// lines, and an optional Telegram sink forwards WARN and above to an
// operator chat under a rate limit.
package logx
