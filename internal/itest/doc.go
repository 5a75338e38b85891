// Package itest holds end-to-end tests that run whole servers in process and
// talk to them over RTMP, HTTP and WebSocket.
package itest
