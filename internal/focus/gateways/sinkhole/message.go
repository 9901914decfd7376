package sinkhole

import (
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/net/dns/dnsmessage"
)

var errNotQuery = errors.New("packet is a response, not a query")

// decodeQuery parses the header and the first question of a query packet.
func decodeQuery(packet []byte) (dnsmessage.Header, dnsmessage.Question, error) {
	var p dnsmessage.Parser
	hdr, err := p.Start(packet)
	if err != nil {
		return dnsmessage.Header{}, dnsmessage.Question{}, fmt.Errorf("parse header: %w", err)
	}
	if hdr.Response {
		return dnsmessage.Header{}, dnsmessage.Question{}, errNotQuery
	}
	q, err := p.Question()
	if err != nil {
		return dnsmessage.Header{}, dnsmessage.Question{}, fmt.Errorf("parse question: %w", err)
	}
	return hdr, q, nil
}

func replyHeader(query dnsmessage.Header, rcode dnsmessage.RCode) dnsmessage.Header {
	return dnsmessage.Header{
		ID:                 query.ID,
		Response:           true,
		OpCode:             query.OpCode,
		Authoritative:      rcode == dnsmessage.RCodeSuccess,
		RecursionDesired:   query.RecursionDesired,
		RecursionAvailable: true,
		RCode:              rcode,
	}
}

// encodeSinkhole answers q with the sinkhole address of the matching
// family. Types without an address get NOERROR and no data.
func encodeSinkhole(query dnsmessage.Header, q dnsmessage.Question, ipv4, ipv6 netip.Addr, ttl uint32) ([]byte, error) {
	b := dnsmessage.NewBuilder(make([]byte, 0, 512), replyHeader(query, dnsmessage.RCodeSuccess))
	b.EnableCompression()
	if err := b.StartQuestions(); err != nil {
		return nil, err
	}
	if err := b.Question(q); err != nil {
		return nil, err
	}
	if err := b.StartAnswers(); err != nil {
		return nil, err
	}
	rh := dnsmessage.ResourceHeader{Name: q.Name, Type: q.Type, Class: q.Class, TTL: ttl}
	switch {
	case q.Type == dnsmessage.TypeA && ipv4.Is4():
		if err := b.AResource(rh, dnsmessage.AResource{A: ipv4.As4()}); err != nil {
			return nil, err
		}
	case q.Type == dnsmessage.TypeAAAA && ipv6.IsValid():
		if err := b.AAAAResource(rh, dnsmessage.AAAAResource{AAAA: ipv6.As16()}); err != nil {
			return nil, err
		}
	}
	return b.Finish()
}

// encodeServfail reports an upstream failure for q.
func encodeServfail(query dnsmessage.Header, q dnsmessage.Question) ([]byte, error) {
	b := dnsmessage.NewBuilder(make([]byte, 0, 512), replyHeader(query, dnsmessage.RCodeServerFailure))
	if err := b.StartQuestions(); err != nil {
		return nil, err
	}
	if err := b.Question(q); err != nil {
		return nil, err
	}
	return b.Finish()
}
