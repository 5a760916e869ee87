// Package notifier sends operator alerts for failed and blocked job runs.
//
// Alerts are produced from event bus events and delivered asynchronously:
// a bounded queue feeds a small worker pool that applies a token-bucket rate
// limit, retries with jittered exponential backoff, and suppresses repeats
// of the same alert within a dedup window.
//
// # Transport
//
// Delivery goes through a Sender. The production Sender is a Telegram bot
// (gopkg.in/telebot.v4); tests use SenderFunc.
//
// # History
//
// The service keeps a small in-memory history of delivered alerts for status
// output.
package notifier
