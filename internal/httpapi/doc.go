// Package httpapi serves the admin job API, the event websocket and health
// endpoints.
package httpapi
