// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/chipshifter/licks/core/cert"
	"github.com/chipshifter/licks/core/crypto/blindaddr"
	"github.com/chipshifter/licks/core/crypto/challenge"
	"github.com/chipshifter/licks/core/crypto/subtoken"
	"github.com/chipshifter/licks/core/identity"
)

var (
	// ErrDecode is returned for envelopes that cannot be parsed.
	ErrDecode = errors.New("wire: malformed message")

	// errUnknownVariant marks an unrecognized oneof tag.  It never
	// escapes Unmarshal; the envelope decodes to an Unknown body.
	errUnknownVariant = errors.New("wire: unknown variant")
)

// Envelope field numbers.
const (
	fieldRequestID         = 1
	fieldError             = 2
	fieldAuthenticated     = 3
	fieldUnauthenticated   = 4
	fieldChallenge         = 5
	fieldChallengeResponse = 6
	fieldPing              = 7
	fieldPong              = 8
	fieldEmpty             = 9
)

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Delivery ids travel as 8 byte big endian so the raw wire bytes sort
// in delivery order.
func appendDeliveryID(b []byte, num protowire.Number, id uint64) []byte {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], id)
	return appendBytesField(b, num, v[:])
}

func parseDeliveryID(v []byte) (uint64, error) {
	if len(v) != 8 {
		return 0, fmt.Errorf("%w: delivery id is %d bytes", ErrDecode, len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

// Marshal serializes the envelope.
func (e *Envelope) Marshal() []byte {
	var b []byte
	if e.RequestID != nil {
		b = appendBytesField(b, fieldRequestID, e.RequestID)
	}
	switch m := e.Body.(type) {
	case *ErrorBody:
		b = appendVarintField(b, fieldError, uint64(m.Code))
	case *Authenticated:
		b = appendBytesField(b, fieldAuthenticated, marshalAuth(m.Msg))
	case *Unauthenticated:
		b = appendBytesField(b, fieldUnauthenticated, marshalUnauth(m.Msg))
	case *Challenge:
		b = appendBytesField(b, fieldChallenge, m.Challenge.Bytes())
	case *ChallengeResponse:
		b = appendBytesField(b, fieldChallengeResponse, marshalChallengeResponse(m))
	case *Ping:
		b = appendBytesField(b, fieldPing, m.Bytes)
	case *Pong:
		b = appendBytesField(b, fieldPong, m.Bytes)
	case *Empty:
		b = appendVarintField(b, fieldEmpty, uint64(m.Kind))
	}
	return b
}

func marshalUnauth(m UnauthBody) []byte {
	var b []byte
	switch m := m.(type) {
	case *Registration:
		b = appendBytesField(b, 1, marshalRegistration(m.Msg))
	case *GetKeyPackage:
		b = appendBytesField(b, 2, m.Account.Bytes())
	case *HereIsKeyPackage:
		b = appendBytesField(b, 3, m.KeyPackage)
	case *NoKeyPackage:
		b = appendBytesField(b, 4, nil)
	case *GetAccountFromUsername:
		b = appendBytesField(b, 5, m.UsernameHash)
	case *HereIsAccount:
		b = appendBytesField(b, 6, m.Account.Bytes())
	case *ChatService:
		b = appendBytesField(b, 7, marshalChat(m.Msg))
	case *NoAccount:
		b = appendBytesField(b, 8, nil)
	}
	return b
}

func marshalAuth(m AuthBody) []byte {
	var b []byte
	switch m := m.(type) {
	case *SetUsername:
		b = appendBytesField(b, 1, m.UsernameHash)
	case *RemoveUsername:
		b = appendBytesField(b, 2, m.UsernameHash)
	case *UsernameIsAlreadyYours:
		b = appendBytesField(b, 3, nil)
	case *UsernameIsAlreadyTaken:
		b = appendBytesField(b, 4, nil)
	case *UploadKeyPackages:
		var inner []byte
		for _, kp := range m.KeyPackages {
			inner = appendBytesField(inner, 1, kp)
		}
		b = appendBytesField(b, 5, inner)
	case *KeyPackageAlreadyUploaded:
		b = appendBytesField(b, 6, nil)
	}
	return b
}

func marshalChat(m ChatBody) []byte {
	var b []byte
	switch m := m.(type) {
	case *ListenStarted:
		b = appendBytesField(b, 1, m.ListenerID)
	case *RetrieveQueue:
		var inner []byte
		inner = appendBytesField(inner, 1, marshalProof(m.Proof))
		inner = appendDeliveryID(inner, 2, m.From)
		b = appendBytesField(b, 2, inner)
	case *SubscribeToAddress:
		var inner []byte
		inner = appendBytesField(inner, 1, m.Address.Bytes())
		inner = appendBytesField(inner, 2, m.Commitment.Bytes())
		b = appendBytesField(b, 3, inner)
	case *StopListening:
		var inner []byte
		inner = appendBytesField(inner, 1, m.ListenerID)
		inner = appendBytesField(inner, 2, m.Token.Bytes())
		b = appendBytesField(b, 4, inner)
	case *MlsMessage:
		var inner []byte
		inner = appendDeliveryID(inner, 1, m.DeliveryID)
		inner = appendBytesField(inner, 2, m.Body)
		b = appendBytesField(b, 5, inner)
	case *QueueDone:
		b = appendVarintField(b, 6, m.LastID)
	case *QueueEmpty:
		b = appendBytesField(b, 7, nil)
	case *SendMessage:
		var inner []byte
		inner = appendBytesField(inner, 1, marshalProof(m.Proof))
		b = appendBytesField(b, 8, inner)
	case *Delivered:
		b = appendDeliveryID(b, 9, m.DeliveryID)
	case *Acknowledge:
		var inner []byte
		inner = appendBytesField(inner, 1, marshalProof(m.Proof))
		inner = appendDeliveryID(inner, 2, m.DeliveryID)
		b = appendBytesField(b, 10, inner)
	}
	return b
}

func marshalRegistration(m RegistrationBody) []byte {
	var b []byte
	switch m := m.(type) {
	case *HereIsMyAccountPublicKey:
		b = appendBytesField(b, 1, m.PublicKey)
	case *HereIsYourAccountID:
		b = appendBytesField(b, 2, m.Account.Bytes())
	case *HereIsMyAccountCertificate:
		b = appendBytesField(b, 3, marshalCertificate(&m.Cert))
	case *HereIsMyChain:
		var inner []byte
		inner = appendBytesField(inner, 1, marshalChain(&m.Chain))
		inner = appendBytesField(inner, 2, m.UsernameHash)
		b = appendBytesField(b, 4, inner)
	}
	return b
}

func marshalProof(p *blindaddr.Proof) []byte {
	var b []byte
	b = appendBytesField(b, 1, p.Public.Bytes())
	b = appendBytesField(b, 2, p.Secret.Bytes())
	b = appendBytesField(b, 3, p.Payload)
	return b
}

func marshalCertificate(c *cert.Certificate) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(c.Scheme))
	b = appendBytesField(b, 2, c.PublicKey)
	b = appendBytesField(b, 3, c.SelfSignature)
	b = appendBytesField(b, 4, c.Data)
	return b
}

func marshalChain(ch *cert.Chain) []byte {
	var b []byte
	b = appendBytesField(b, 1, marshalCertificate(&ch.AccountCert))
	b = appendBytesField(b, 2, ch.AccountToDeviceSig)
	b = appendBytesField(b, 3, marshalCertificate(&ch.DeviceCert))
	return b
}

func marshalChallengeResponse(m *ChallengeResponse) []byte {
	var b []byte
	b = appendBytesField(b, 1, marshalChain(&m.Chain))
	b = appendBytesField(b, 2, m.ClientBytes.Bytes())
	b = appendBytesField(b, 3, m.SignatureOfHash)
	return b
}

// fieldIter walks the fields of one message level.
type fieldIter struct {
	buf []byte
}

// next returns the field number, its wire type, and the value bytes for
// bytes typed fields (nil otherwise).  Varint values return through v.
func (it *fieldIter) next() (num protowire.Number, typ protowire.Type, raw []byte, v uint64, err error) {
	num, typ, n := protowire.ConsumeTag(it.buf)
	if n < 0 {
		return 0, 0, nil, 0, ErrDecode
	}
	it.buf = it.buf[n:]
	switch typ {
	case protowire.BytesType:
		raw, n = protowire.ConsumeBytes(it.buf)
		if n < 0 {
			return 0, 0, nil, 0, ErrDecode
		}
	case protowire.VarintType:
		v, n = protowire.ConsumeVarint(it.buf)
		if n < 0 {
			return 0, 0, nil, 0, ErrDecode
		}
	default:
		n = protowire.ConsumeFieldValue(num, typ, it.buf)
		if n < 0 {
			return 0, 0, nil, 0, ErrDecode
		}
	}
	it.buf = it.buf[n:]
	return num, typ, raw, v, nil
}

func (it *fieldIter) done() bool {
	return len(it.buf) == 0
}

// Unmarshal parses an envelope.  Unrecognized body variants decode to
// an Unknown body rather than failing, so newer peers keep the
// connection usable.
func Unmarshal(b []byte) (*Envelope, error) {
	e := &Envelope{}
	it := fieldIter{buf: b}
	for !it.done() {
		num, typ, raw, v, err := it.next()
		if err != nil {
			return nil, err
		}
		var body Body
		switch {
		case num == fieldRequestID && typ == protowire.BytesType:
			e.RequestID = append([]byte(nil), raw...)
			continue
		case num == fieldError && typ == protowire.VarintType:
			body = &ErrorBody{Code: Error(v)}
		case num == fieldAuthenticated && typ == protowire.BytesType:
			m, err := parseAuth(raw)
			if err != nil {
				return nil, err
			}
			body = m
		case num == fieldUnauthenticated && typ == protowire.BytesType:
			m, err := parseUnauth(raw)
			if err != nil {
				return nil, err
			}
			body = m
		case num == fieldChallenge && typ == protowire.BytesType:
			c, err := challenge.FromBytes(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDecode, err)
			}
			body = &Challenge{Challenge: c}
		case num == fieldChallengeResponse && typ == protowire.BytesType:
			m, err := parseChallengeResponse(raw)
			if err != nil {
				return nil, err
			}
			body = m
		case num == fieldPing && typ == protowire.BytesType:
			body = &Ping{Bytes: append([]byte(nil), raw...)}
		case num == fieldPong && typ == protowire.BytesType:
			body = &Pong{Bytes: append([]byte(nil), raw...)}
		case num == fieldEmpty && typ == protowire.VarintType:
			body = &Empty{Kind: EmptyKind(v)}
		default:
			body = &Unknown{}
		}
		if e.Body != nil {
			return nil, fmt.Errorf("%w: multiple bodies", ErrDecode)
		}
		e.Body = body
	}
	if e.Body == nil {
		return nil, fmt.Errorf("%w: missing body", ErrDecode)
	}
	return e, nil
}

func parseUnauth(b []byte) (Body, error) {
	m, err := parseUnauthBody(b)
	if errors.Is(err, errUnknownVariant) {
		return &Unknown{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Unauthenticated{Msg: m}, nil
}

func parseUnauthBody(b []byte) (UnauthBody, error) {
	it := fieldIter{buf: b}
	var msg UnauthBody
	for !it.done() {
		num, typ, raw, _, err := it.next()
		if err != nil {
			return nil, err
		}
		if typ != protowire.BytesType {
			return nil, ErrDecode
		}
		switch num {
		case 1:
			inner, err := parseRegistration(raw)
			if err != nil {
				return nil, err
			}
			msg = &Registration{Msg: inner}
		case 2:
			acct, err := identity.AccountIDFromBytes(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDecode, err)
			}
			msg = &GetKeyPackage{Account: acct}
		case 3:
			msg = &HereIsKeyPackage{KeyPackage: append([]byte(nil), raw...)}
		case 4:
			msg = &NoKeyPackage{}
		case 5:
			if err = checkUsernameHash(raw); err != nil {
				return nil, err
			}
			msg = &GetAccountFromUsername{UsernameHash: append([]byte(nil), raw...)}
		case 6:
			acct, err := identity.AccountIDFromBytes(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDecode, err)
			}
			msg = &HereIsAccount{Account: acct}
		case 7:
			inner, err := parseChat(raw)
			if err != nil {
				return nil, err
			}
			msg = &ChatService{Msg: inner}
		case 8:
			msg = &NoAccount{}
		default:
			return nil, errUnknownVariant
		}
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: empty unauthenticated message", ErrDecode)
	}
	return msg, nil
}

func parseAuth(b []byte) (Body, error) {
	m, err := parseAuthBody(b)
	if errors.Is(err, errUnknownVariant) {
		return &Unknown{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Authenticated{Msg: m}, nil
}

func parseAuthBody(b []byte) (AuthBody, error) {
	it := fieldIter{buf: b}
	var msg AuthBody
	for !it.done() {
		num, typ, raw, _, err := it.next()
		if err != nil {
			return nil, err
		}
		if typ != protowire.BytesType {
			return nil, ErrDecode
		}
		switch num {
		case 1:
			if err = checkUsernameHash(raw); err != nil {
				return nil, err
			}
			msg = &SetUsername{UsernameHash: append([]byte(nil), raw...)}
		case 2:
			if err = checkUsernameHash(raw); err != nil {
				return nil, err
			}
			msg = &RemoveUsername{UsernameHash: append([]byte(nil), raw...)}
		case 3:
			msg = &UsernameIsAlreadyYours{}
		case 4:
			msg = &UsernameIsAlreadyTaken{}
		case 5:
			up := &UploadKeyPackages{}
			inner := fieldIter{buf: raw}
			for !inner.done() {
				n, t, r, _, err := inner.next()
				if err != nil {
					return nil, err
				}
				if n != 1 || t != protowire.BytesType {
					continue
				}
				up.KeyPackages = append(up.KeyPackages, append([]byte(nil), r...))
			}
			msg = up
		case 6:
			msg = &KeyPackageAlreadyUploaded{}
		default:
			return nil, errUnknownVariant
		}
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: empty authenticated message", ErrDecode)
	}
	return msg, nil
}

func parseChat(b []byte) (ChatBody, error) {
	it := fieldIter{buf: b}
	var msg ChatBody
	for !it.done() {
		num, typ, raw, v, err := it.next()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			if err = checkListenerID(raw); err != nil {
				return nil, err
			}
			msg = &ListenStarted{ListenerID: append([]byte(nil), raw...)}
		case 2:
			rq := &RetrieveQueue{}
			inner := fieldIter{buf: raw}
			for !inner.done() {
				n, _, r, _, err := inner.next()
				if err != nil {
					return nil, err
				}
				switch n {
				case 1:
					if rq.Proof, err = parseProof(r); err != nil {
						return nil, err
					}
				case 2:
					if rq.From, err = parseDeliveryID(r); err != nil {
						return nil, err
					}
				}
			}
			if rq.Proof == nil {
				return nil, fmt.Errorf("%w: retrieve without proof", ErrDecode)
			}
			msg = rq
		case 3:
			sub := &SubscribeToAddress{}
			var sawAddr, sawCommit bool
			inner := fieldIter{buf: raw}
			for !inner.done() {
				n, _, r, _, err := inner.next()
				if err != nil {
					return nil, err
				}
				switch n {
				case 1:
					if sub.Address, err = blindaddr.PublicFromBytes(r); err != nil {
						return nil, fmt.Errorf("%w: %v", ErrDecode, err)
					}
					sawAddr = true
				case 2:
					if sub.Commitment, err = subtoken.CommitmentFromBytes(r); err != nil {
						return nil, fmt.Errorf("%w: %v", ErrDecode, err)
					}
					sawCommit = true
				}
			}
			if !sawAddr || !sawCommit {
				return nil, fmt.Errorf("%w: incomplete subscribe", ErrDecode)
			}
			msg = sub
		case 4:
			stop := &StopListening{}
			var sawToken bool
			inner := fieldIter{buf: raw}
			for !inner.done() {
				n, _, r, _, err := inner.next()
				if err != nil {
					return nil, err
				}
				switch n {
				case 1:
					if err = checkListenerID(r); err != nil {
						return nil, err
					}
					stop.ListenerID = append([]byte(nil), r...)
				case 2:
					if stop.Token, err = subtoken.TokenFromBytes(r); err != nil {
						return nil, fmt.Errorf("%w: %v", ErrDecode, err)
					}
					sawToken = true
				}
			}
			if stop.ListenerID == nil || !sawToken {
				return nil, fmt.Errorf("%w: incomplete stop listening", ErrDecode)
			}
			msg = stop
		case 5:
			mm := &MlsMessage{}
			inner := fieldIter{buf: raw}
			for !inner.done() {
				n, _, r, _, err := inner.next()
				if err != nil {
					return nil, err
				}
				switch n {
				case 1:
					if mm.DeliveryID, err = parseDeliveryID(r); err != nil {
						return nil, err
					}
				case 2:
					mm.Body = append([]byte(nil), r...)
				}
			}
			msg = mm
		case 6:
			if typ != protowire.VarintType {
				return nil, ErrDecode
			}
			msg = &QueueDone{LastID: v}
		case 7:
			msg = &QueueEmpty{}
		case 8:
			sm := &SendMessage{}
			inner := fieldIter{buf: raw}
			for !inner.done() {
				n, _, r, _, err := inner.next()
				if err != nil {
					return nil, err
				}
				if n == 1 {
					if sm.Proof, err = parseProof(r); err != nil {
						return nil, err
					}
				}
			}
			if sm.Proof == nil {
				return nil, fmt.Errorf("%w: send without proof", ErrDecode)
			}
			msg = sm
		case 9:
			id, err := parseDeliveryID(raw)
			if err != nil {
				return nil, err
			}
			msg = &Delivered{DeliveryID: id}
		case 10:
			ack := &Acknowledge{}
			inner := fieldIter{buf: raw}
			for !inner.done() {
				n, _, r, _, err := inner.next()
				if err != nil {
					return nil, err
				}
				switch n {
				case 1:
					if ack.Proof, err = parseProof(r); err != nil {
						return nil, err
					}
				case 2:
					if ack.DeliveryID, err = parseDeliveryID(r); err != nil {
						return nil, err
					}
				}
			}
			if ack.Proof == nil {
				return nil, fmt.Errorf("%w: acknowledge without proof", ErrDecode)
			}
			msg = ack
		default:
			return nil, errUnknownVariant
		}
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: empty chat message", ErrDecode)
	}
	return msg, nil
}

func parseRegistration(b []byte) (RegistrationBody, error) {
	it := fieldIter{buf: b}
	var msg RegistrationBody
	for !it.done() {
		num, typ, raw, _, err := it.next()
		if err != nil {
			return nil, err
		}
		if typ != protowire.BytesType {
			return nil, ErrDecode
		}
		switch num {
		case 1:
			msg = &HereIsMyAccountPublicKey{PublicKey: append([]byte(nil), raw...)}
		case 2:
			acct, err := identity.AccountIDFromBytes(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDecode, err)
			}
			msg = &HereIsYourAccountID{Account: acct}
		case 3:
			c, err := parseCertificate(raw)
			if err != nil {
				return nil, err
			}
			msg = &HereIsMyAccountCertificate{Cert: *c}
		case 4:
			hc := &HereIsMyChain{}
			var sawChain bool
			inner := fieldIter{buf: raw}
			for !inner.done() {
				n, _, r, _, err := inner.next()
				if err != nil {
					return nil, err
				}
				switch n {
				case 1:
					ch, err := parseChain(r)
					if err != nil {
						return nil, err
					}
					hc.Chain = *ch
					sawChain = true
				case 2:
					if err = checkUsernameHash(r); err != nil {
						return nil, err
					}
					hc.UsernameHash = append([]byte(nil), r...)
				}
			}
			if !sawChain {
				return nil, fmt.Errorf("%w: registration without chain", ErrDecode)
			}
			msg = hc
		default:
			return nil, errUnknownVariant
		}
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: empty registration message", ErrDecode)
	}
	return msg, nil
}

func parseProof(b []byte) (*blindaddr.Proof, error) {
	p := &blindaddr.Proof{}
	var sawPublic, sawSecret bool
	it := fieldIter{buf: b}
	for !it.done() {
		num, _, raw, _, err := it.next()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			if p.Public, err = blindaddr.PublicFromBytes(raw); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDecode, err)
			}
			sawPublic = true
		case 2:
			if p.Secret, err = blindaddr.SecretFromBytes(raw); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDecode, err)
			}
			sawSecret = true
		case 3:
			p.Payload = append([]byte(nil), raw...)
		}
	}
	if !sawPublic || !sawSecret {
		return nil, fmt.Errorf("%w: incomplete proof", ErrDecode)
	}
	return p, nil
}

func parseCertificate(b []byte) (*cert.Certificate, error) {
	c := &cert.Certificate{}
	sawScheme := false
	it := fieldIter{buf: b}
	for !it.done() {
		num, typ, raw, v, err := it.next()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			if typ != protowire.VarintType || v > 0xffffffff {
				return nil, ErrDecode
			}
			c.Scheme = cert.SchemeID(v)
			// Unsupported schemes are a decode failure, not a crypto
			// failure.
			if _, err := c.Scheme.Scheme(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDecode, err)
			}
			sawScheme = true
		case 2:
			c.PublicKey = append([]byte(nil), raw...)
		case 3:
			c.SelfSignature = append([]byte(nil), raw...)
		case 4:
			c.Data = append([]byte(nil), raw...)
		}
	}
	if !sawScheme || c.PublicKey == nil || c.SelfSignature == nil {
		return nil, fmt.Errorf("%w: incomplete certificate", ErrDecode)
	}
	return c, nil
}

func parseChain(b []byte) (*cert.Chain, error) {
	ch := &cert.Chain{}
	var sawAccount, sawDevice bool
	it := fieldIter{buf: b}
	for !it.done() {
		num, _, raw, _, err := it.next()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			c, err := parseCertificate(raw)
			if err != nil {
				return nil, err
			}
			ch.AccountCert = *c
			sawAccount = true
		case 2:
			ch.AccountToDeviceSig = append([]byte(nil), raw...)
		case 3:
			c, err := parseCertificate(raw)
			if err != nil {
				return nil, err
			}
			ch.DeviceCert = *c
			sawDevice = true
		}
	}
	if !sawAccount || !sawDevice || ch.AccountToDeviceSig == nil {
		return nil, fmt.Errorf("%w: incomplete chain", ErrDecode)
	}
	return ch, nil
}

func parseChallengeResponse(b []byte) (*ChallengeResponse, error) {
	cr := &ChallengeResponse{}
	var sawChain, sawClient bool
	it := fieldIter{buf: b}
	for !it.done() {
		num, _, raw, _, err := it.next()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			ch, err := parseChain(raw)
			if err != nil {
				return nil, err
			}
			cr.Chain = *ch
			sawChain = true
		case 2:
			if cr.ClientBytes, err = challenge.FromBytes(raw); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDecode, err)
			}
			sawClient = true
		case 3:
			cr.SignatureOfHash = append([]byte(nil), raw...)
		}
	}
	if !sawChain || !sawClient || cr.SignatureOfHash == nil {
		return nil, fmt.Errorf("%w: incomplete challenge response", ErrDecode)
	}
	return cr, nil
}

func checkUsernameHash(b []byte) error {
	if len(b) != UsernameHashLength {
		return fmt.Errorf("%w: username hash is %d bytes", ErrDecode, len(b))
	}
	return nil
}

func checkListenerID(b []byte) error {
	if len(b) != ListenerIDLength {
		return fmt.Errorf("%w: listener id is %d bytes", ErrDecode, len(b))
	}
	return nil
}
