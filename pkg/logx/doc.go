// Package logx is flowwatch's logging layer on top of zerolog.
//
// Components hold a Logger value; the Service behind it can change level
// and sinks at runtime when the config file is reloaded. Stdout uses the
// zerolog console writer unless format is "json". The file sink always
// writes JSON lines.
package logx
