// Package localzone implements a small answer synthesizer for a curated
// set of local domain records, consulted before the cache and the
// forwarder on every query.
package localzone

import (
	"encoding/json"
	"net"
	"os"
	"strings"

	"github.com/miekg/dns"

	"github.com/codeRisshi25/dns-forwarder/log"
)

// record is the on-disk shape of one curated entry.
type record struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"` // "A", "AAAA", or "CNAME"
	TTL   uint32   `json:"ttl"`
	Value []string `json:"value"`
}

// Zone is an immutable, read-only map from lower-cased, dot-terminated
// domain name and query type to the answer records to synthesize. An
// empty Zone is a permanent no-op, the same degrade-to-disabled contract
// the cache client uses when its backend is unavailable.
type Zone struct {
	answers map[string]map[uint16][]dns.RR
}

// Empty returns a Zone with nothing configured; Lookup always misses.
func Empty() *Zone {
	return &Zone{answers: map[string]map[uint16][]dns.RR{}}
}

// Load reads a curated local zone from a JSON file. An empty path
// disables the synthesizer entirely and returns Empty(), not an error.
func Load(path string) (*Zone, error) {
	if path == "" {
		return Empty(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var recs []record
	if err = json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}

	z := &Zone{answers: map[string]map[uint16][]dns.RR{}}
	for _, rec := range recs {
		z.add(rec)
	}

	log.Sugar.Infof("localzone: loaded %d record(s) from %s", len(recs), path)
	return z, nil
}

func (z *Zone) add(rec record) {
	name := dns.Fqdn(strings.ToLower(rec.Name))

	var qtype uint16
	switch strings.ToUpper(rec.Type) {
	case "A":
		qtype = dns.TypeA
	case "AAAA":
		qtype = dns.TypeAAAA
	case "CNAME":
		qtype = dns.TypeCNAME
	default:
		log.Sugar.Warnf("localzone: skipping %s: unsupported type %q", rec.Name, rec.Type)
		return
	}

	header := dns.RR_Header{Name: name, Rrtype: qtype, Class: dns.ClassINET, Ttl: rec.TTL}

	var rrs []dns.RR
	for _, v := range rec.Value {
		var rr dns.RR
		switch qtype {
		case dns.TypeA:
			rr = &dns.A{Hdr: header, A: net.ParseIP(v)}
		case dns.TypeAAAA:
			rr = &dns.AAAA{Hdr: header, AAAA: net.ParseIP(v)}
		case dns.TypeCNAME:
			rr = &dns.CNAME{Hdr: header, Target: dns.Fqdn(v)}
		}
		if rr != nil {
			rrs = append(rrs, rr)
		}
	}

	if len(rrs) == 0 {
		return
	}

	if z.answers[name] == nil {
		z.answers[name] = map[uint16][]dns.RR{}
	}
	z.answers[name][qtype] = rrs
}

// Lookup returns the curated answer records for an exact domain+qtype
// match, or (nil, false) on any miss. domain must already be lower-cased;
// it is compared against the zone's dot-terminated keys.
func (z *Zone) Lookup(domain string, qtype uint16) ([]dns.RR, bool) {
	if z == nil || len(z.answers) == 0 {
		return nil, false
	}

	byType, ok := z.answers[dns.Fqdn(domain)]
	if !ok {
		return nil, false
	}

	rrs, ok := byType[qtype]
	return rrs, ok
}

// Synthesize builds a full reply datagram for a query, carrying the
// query's own transaction ID and question section, answered by the
// curated records. This is the one hot-path place that builds a
// dns.Msg rather than rewriting raw bytes: there is no upstream byte
// stream to preserve here, the reply is synthesized outright.
func Synthesize(query []byte, rrs []dns.RR) ([]byte, error) {
	req := new(dns.Msg)
	if err := req.Unpack(query); err != nil {
		return nil, err
	}

	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.RecursionAvailable = true
	resp.Answer = rrs

	return resp.Pack()
}
