// Package proxy serves site traffic: inbound requests are rewritten onto the
// site origin and sent through the controlling worker's interceptor.
package proxy
