// Package tgui renders Telegram HTML messages.
//
// Values of type H are already escaped for ParseMode="HTML"; plain strings
// go through Esc or one of the tag helpers.
package tgui
