// Package tgui provides small helpers for building Telegram HTML messages.
//
// Values of type H are already escaped for ParseMode="HTML"; build them with
// Esc and the tag helpers instead of concatenating user input.
package tgui
