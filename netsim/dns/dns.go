// SPDX-License-Identifier: GPL-3.0-or-later

// Package dns serves a static DNS database over a datagram socket.
package dns

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/miekg/dns"
	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/stacksock/socket"
)

// Database models a static DNS database.
type Database struct {
	names map[string][]dns.RR
}

// NewDatabase creates a new DNS database.
func NewDatabase() *Database {
	return &Database{
		names: make(map[string][]dns.RR),
	}
}

// AddCNAME adds a CNAME alias.
//
// This method IS NOT goroutine safe.
func (dd *Database) AddCNAME(name, alias string) {
	header := dns.RR_Header{
		Name:     dns.CanonicalName(name),
		Rrtype:   dns.TypeCNAME,
		Class:    dns.ClassINET,
		Ttl:      3600,
		Rdlength: 0,
	}

	rr := &dns.CNAME{
		Hdr:    header,
		Target: dns.CanonicalName(alias),
	}

	name = dns.CanonicalName(name)
	dd.names[name] = append(dd.names[name], rr)
}

// AddAddresses adds A/AAAA records mapping the given
// domainNames to the given IPv4/IPv6 addresses.
//
// This method IS NOT goroutine safe.
func (dd *Database) AddAddresses(domainNames, addresses []string) {
	for _, name := range domainNames {
		name = dns.CanonicalName(name)
		for _, addr := range addresses {
			// Make sure the string is a valid IP address
			ipAddr := net.ParseIP(addr)
			runtimex.Assert(ipAddr != nil, "invalid IP address")

			// Create the common DNS header
			header := dns.RR_Header{
				Name:     dns.CanonicalName(name),
				Rrtype:   0,
				Class:    dns.ClassINET,
				Ttl:      3600,
				Rdlength: 0,
			}

			// Create the DNS record to add
			var rr dns.RR
			switch ipAddr.To4() {
			case nil:
				header.Rrtype = dns.TypeAAAA
				rr = &dns.AAAA{Hdr: header, AAAA: ipAddr}
			default:
				header.Rrtype = dns.TypeA
				rr = &dns.A{Hdr: header, A: ipAddr}
			}

			dd.names[name] = append(dd.names[name], rr)
		}
	}
}

// errInvalidQuery indicates a query we do not answer.
var errInvalidQuery = errors.New("dns: invalid query")

// Respond returns the raw response to the given raw query.
//
// This method is goroutine safe as long as one does not
// modify the database while handling queries.
func (dd *Database) Respond(rawQuery []byte) ([]byte, error) {
	// Parse the incoming query and make sure it's a
	// query containing just one question.
	var (
		response = &dns.Msg{}
		query    = &dns.Msg{}
	)
	if err := query.Unpack(rawQuery); err != nil {
		return nil, err
	}
	if query.Response || query.Opcode != dns.OpcodeQuery || len(query.Question) != 1 {
		return nil, errInvalidQuery
	}
	response.SetReply(query)

	// Get the RRs if possible
	var (
		q0   = query.Question[0]
		name = dns.CanonicalName(q0.Name)
	)
	switch {
	case q0.Qclass != dns.ClassINET:
		response.Rcode = dns.RcodeRefused
	case q0.Qtype == dns.TypeA ||
		q0.Qtype == dns.TypeAAAA ||
		q0.Qtype == dns.TypeCNAME:
		var found bool
		response.Answer, found = dd.lookup(q0.Qtype, name)
		if !found {
			response.Rcode = dns.RcodeNameError
		}
	default:
		response.Rcode = dns.RcodeNameError
	}
	return response.Pack()
}

// Serve answers the queries received by the given datagram socket
// until receiving fails, e.g., because the context is done. Closing
// the socket from another goroutine stops Serve with an error
// matching [net.ErrClosed]. Invalid queries are logged and ignored.
func (dd *Database) Serve(ctx context.Context, sock *socket.Socket, logger *slog.Logger) error {
	for {
		rawQuery, peer, err := sock.RecvFrom(ctx, dns.MaxMsgSize, 0)
		if err != nil {
			return err
		}
		rawResp, err := dd.Respond(rawQuery)
		if err != nil {
			if logger != nil {
				logger.DebugContext(ctx, "dnsQueryIgnored", slog.Any("err", err))
			}
			continue
		}
		if _, err := sock.SendTo(ctx, rawResp, 0, peer); err != nil {
			return err
		}
	}
}

// lookup returns the DNS records for a domain name.
//
// This method is goroutine safe as long as one does not
// modify the database while handling queries.
func (dd *Database) lookup(qtype uint16, name string) ([]dns.RR, bool) {
	const maxloops = 10
	var rrs []dns.RR
	for idx := 0; idx < maxloops; idx++ {

		// Search whether the current name is in the database.
		var interim []dns.RR
		interim, found := dd.names[name]
		if !found {
			return nil, false
		}

		// We have definitely found something related.
		rrs = append(rrs, interim...)

		// Check whether we have found the desired record.
		for _, rr := range interim {
			if qtype == rr.Header().Rrtype {
				return rrs, true
			}
		}

		// Otherwise, follow CNAME redirects.
		var cname string
		for _, rr := range interim {
			if rr, ok := rr.(*dns.CNAME); ok {
				cname = rr.Target
				break
			}
		}
		if cname == "" {
			return nil, false
		}

		// Continue searching from the CNAME target.
		name = cname
	}

	return nil, false
}
