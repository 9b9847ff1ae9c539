// Package discovery advertises and finds Point Gateways over mDNS/DNS-SD.
//
// A gateway registers the _pointgw._tcp service with a TXT record naming the
// API version; clients configured with the "mdns" gateway address browse for
// the first such service on the local link.
package discovery
