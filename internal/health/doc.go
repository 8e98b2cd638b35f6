// Package health runs the per-pool background maintenance loop: reaping
// connections that sat idle past their limit and probing one idle
// connection per cycle to catch silently-dead handles before a caller
// does.
package health
