package packet

// EncodeWithLimit serializes the packet, truncating it to fit within
// limit bytes. On overflow the TC flag is set and whole records are
// dropped, Answer section first, then Authority, then Additional. OPT
// and TSIG records are re-appended unmodified after truncation so the
// peer still sees the EDNS negotiation and the signature envelope.
func (p *DNSPacket) EncodeWithLimit(limit int) ([]byte, error) {
	if limit <= 0 || limit > MaxPacketSize {
		limit = MaxPacketSize
	}

	// Pseudo-records survive truncation; split them out first.
	var plain []DNSRecord
	var pseudo []DNSRecord
	for _, r := range p.Resources {
		if r.Type == OPT {
			pseudo = append(pseudo, r)
		} else {
			plain = append(plain, r)
		}
	}
	if p.Signature != nil {
		pseudo = append(pseudo, *p.Signature)
	}

	work := DNSPacket{
		Header:      p.Header,
		Questions:   p.Questions,
		Answers:     p.Answers,
		Authorities: p.Authorities,
		Resources:   append(append([]DNSRecord{}, plain...), pseudo...),
		TSIGStart:   -1,
	}

	for {
		buf := GetBuffer()
		buf.HasNames = true
		err := work.Write(buf)
		if err == nil && buf.Position() <= limit {
			out := make([]byte, buf.Position())
			copy(out, buf.Bytes())
			PutBuffer(buf)
			return out, nil
		}
		PutBuffer(buf)
		if err != nil {
			return nil, err
		}

		work.Header.TruncatedMessage = true
		switch {
		case len(work.Answers) > 0:
			work.Answers = work.Answers[:len(work.Answers)-1]
		case len(work.Authorities) > 0:
			work.Authorities = work.Authorities[:len(work.Authorities)-1]
		case len(work.Resources) > len(pseudo):
			cut := len(work.Resources) - len(pseudo) - 1
			work.Resources = append(append([]DNSRecord{}, work.Resources[:cut]...), pseudo...)
		default:
			// Nothing left to shed; a bare header with its pseudo
			// records is the floor.
			buf := GetBuffer()
			buf.HasNames = true
			if err := work.Write(buf); err != nil {
				PutBuffer(buf)
				return nil, err
			}
			out := make([]byte, buf.Position())
			copy(out, buf.Bytes())
			PutBuffer(buf)
			return out, nil
		}
	}
}
