// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/chipshifter/licks/core/cert"
	"github.com/chipshifter/licks/core/crypto/blindaddr"
	"github.com/chipshifter/licks/core/crypto/challenge"
	"github.com/chipshifter/licks/core/crypto/subtoken"
	"github.com/chipshifter/licks/core/identity"
)

func roundTrip(t *testing.T, e *Envelope) *Envelope {
	d, err := Unmarshal(e.Marshal())
	require.NoError(t, err)
	return d
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	secret := blindaddr.DeriveSecret([]byte("round trip group secret"))
	tok := subtoken.New()
	acct := identity.NewAccountID()

	cases := []struct {
		name string
		env  *Envelope
	}{
		{"error", &Envelope{RequestID: []byte{1, 2, 3, 4}, Body: &ErrorBody{Code: ErrorInvalidOperation}}},
		{"empty_ok", &Envelope{RequestID: []byte{9}, Body: &Empty{Kind: EmptyOk}}},
		{"empty_bye", &Envelope{Body: &Empty{Kind: EmptyBye}}},
		{"ping", &Envelope{RequestID: []byte{7}, Body: &Ping{Bytes: []byte("hello")}}},
		{"pong", &Envelope{RequestID: []byte{7}, Body: &Pong{Bytes: []byte("hello")}}},
		{"challenge", &Envelope{Body: &Challenge{Challenge: challenge.New()}}},
		{"send_message", &Envelope{
			RequestID: []byte{1},
			Body: &Unauthenticated{Msg: &ChatService{Msg: &SendMessage{
				Proof: blindaddr.NewProof(secret, []byte("ciphertext")),
			}}},
		}},
		{"retrieve_queue", &Envelope{
			RequestID: []byte{2},
			Body: &Unauthenticated{Msg: &ChatService{Msg: &RetrieveQueue{
				Proof: blindaddr.NewProof(secret, nil),
				From:  42,
			}}},
		}},
		{"subscribe", &Envelope{
			RequestID: []byte{3},
			Body: &Unauthenticated{Msg: &ChatService{Msg: &SubscribeToAddress{
				Address:    secret.Public(),
				Commitment: tok.Commitment(),
			}}},
		}},
		{"stop_listening", &Envelope{
			RequestID: []byte{4},
			Body: &Unauthenticated{Msg: &ChatService{Msg: &StopListening{
				ListenerID: make([]byte, ListenerIDLength),
				Token:      tok,
			}}},
		}},
		{"mls_message_push", &Envelope{
			Body: &Unauthenticated{Msg: &ChatService{Msg: &MlsMessage{
				DeliveryID: 7,
				Body:       []byte("pushed"),
			}}},
		}},
		{"queue_done", &Envelope{
			RequestID: []byte{5},
			Body:      &Unauthenticated{Msg: &ChatService{Msg: &QueueDone{LastID: 12}}},
		}},
		{"queue_empty", &Envelope{
			RequestID: []byte{5},
			Body:      &Unauthenticated{Msg: &ChatService{Msg: &QueueEmpty{}}},
		}},
		{"delivered", &Envelope{
			RequestID: []byte{6},
			Body:      &Unauthenticated{Msg: &ChatService{Msg: &Delivered{DeliveryID: 99}}},
		}},
		{"acknowledge", &Envelope{
			RequestID: []byte{8},
			Body: &Unauthenticated{Msg: &ChatService{Msg: &Acknowledge{
				Proof:      blindaddr.NewProof(secret, nil),
				DeliveryID: 3,
			}}},
		}},
		{"get_account", &Envelope{
			RequestID: []byte{1},
			Body:      &Unauthenticated{Msg: &GetAccountFromUsername{UsernameHash: make([]byte, UsernameHashLength)}},
		}},
		{"here_is_account", &Envelope{
			RequestID: []byte{1},
			Body:      &Unauthenticated{Msg: &HereIsAccount{Account: acct}},
		}},
		{"no_account", &Envelope{RequestID: []byte{1}, Body: &Unauthenticated{Msg: &NoAccount{}}}},
		{"get_key_package", &Envelope{
			RequestID: []byte{1},
			Body:      &Unauthenticated{Msg: &GetKeyPackage{Account: acct}},
		}},
		{"here_is_key_package", &Envelope{
			RequestID: []byte{1},
			Body:      &Unauthenticated{Msg: &HereIsKeyPackage{KeyPackage: []byte("kp")}},
		}},
		{"no_key_package", &Envelope{RequestID: []byte{1}, Body: &Unauthenticated{Msg: &NoKeyPackage{}}}},
		{"set_username", &Envelope{
			RequestID: []byte{1},
			Body:      &Authenticated{Msg: &SetUsername{UsernameHash: make([]byte, UsernameHashLength)}},
		}},
		{"remove_username", &Envelope{
			RequestID: []byte{1},
			Body:      &Authenticated{Msg: &RemoveUsername{UsernameHash: make([]byte, UsernameHashLength)}},
		}},
		{"upload_key_packages", &Envelope{
			RequestID: []byte{1},
			Body:      &Authenticated{Msg: &UploadKeyPackages{KeyPackages: [][]byte{[]byte("a"), []byte("b")}}},
		}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := roundTrip(t, tc.env)
			require.Equal(t, tc.env, d)
		})
	}
}

func TestRegistrationRoundTrip(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cs, err := cert.NewChainSecret(cert.SchemeEd25519, identity.NewAccountID(), identity.NewDeviceID())
	require.NoError(err)

	e := &Envelope{
		RequestID: []byte{1},
		Body: &Unauthenticated{Msg: &Registration{Msg: &HereIsMyChain{
			Chain:        cs.Chain,
			UsernameHash: make([]byte, UsernameHashLength),
		}}},
	}
	d := roundTrip(t, e)
	require.Equal(e, d)

	m := d.Body.(*Unauthenticated).Msg.(*Registration).Msg.(*HereIsMyChain)
	_, _, err = m.Chain.Verify()
	require.NoError(err)
}

func TestChallengeResponseRoundTrip(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cs, err := cert.NewChainSecret(cert.SchemeEd25519, identity.NewAccountID(), identity.NewDeviceID())
	require.NoError(err)

	issued := challenge.New()
	resp := challenge.Respond(issued, cs)
	e := &Envelope{
		RequestID: []byte{1},
		Body: &ChallengeResponse{
			Chain:           resp.Chain,
			ClientBytes:     resp.ClientBytes,
			SignatureOfHash: resp.SignatureOfHash,
		},
	}
	d := roundTrip(t, e)
	cr := d.Body.(*ChallengeResponse)

	_, _, err = (&challenge.Response{
		Chain:           cr.Chain,
		ClientBytes:     cr.ClientBytes,
		SignatureOfHash: cr.SignatureOfHash,
	}).Verify(issued)
	require.NoError(err)
}

func TestUnknownBodyVariant(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	var b []byte
	b = appendBytesField(b, fieldRequestID, []byte{1})
	b = appendBytesField(b, 200, []byte("from the future"))
	e, err := Unmarshal(b)
	require.NoError(err)
	require.IsType(&Unknown{}, e.Body)
	require.Equal([]byte{1}, e.RequestID)
}

func TestUnknownInnerVariant(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	var inner []byte
	inner = appendBytesField(inner, 99, []byte("new chat op"))
	var b []byte
	b = appendBytesField(b, fieldUnauthenticated, appendBytesField(nil, 7, inner))
	e, err := Unmarshal(b)
	require.NoError(err)
	require.IsType(&Unknown{}, e.Body)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	_, err := Unmarshal(nil)
	require.ErrorIs(err, ErrDecode)

	_, err = Unmarshal([]byte{0xff, 0xff, 0xff})
	require.ErrorIs(err, ErrDecode)

	// A username hash of the wrong length is rejected at decode time.
	var b []byte
	b = appendBytesField(b, fieldUnauthenticated, appendBytesField(nil, 5, []byte("short")))
	_, err = Unmarshal(b)
	require.ErrorIs(err, ErrDecode)

	// Two bodies in one envelope.
	b = nil
	b = appendVarintField(b, fieldError, 0)
	b = appendVarintField(b, fieldEmpty, uint64(EmptyOk))
	_, err = Unmarshal(b)
	require.ErrorIs(err, ErrDecode)

	// An unsupported certificate scheme is a decode failure.
	var badCert []byte
	badCert = appendVarintField(badCert, 1, 250)
	badCert = appendBytesField(badCert, 2, []byte("key"))
	badCert = appendBytesField(badCert, 3, []byte("sig"))
	b = appendBytesField(nil, fieldUnauthenticated,
		appendBytesField(nil, 1, appendBytesField(nil, 3, badCert)))
	_, err = Unmarshal(b)
	require.ErrorIs(err, ErrDecode)
}

func TestDeliveryIDWireOrder(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	a := appendDeliveryID(nil, 1, 1)
	z := appendDeliveryID(nil, 1, 1<<40)
	require.Len(a, len(z))

	id, err := parseDeliveryID([]byte{0, 0, 0, 0, 0, 0, 1, 0})
	require.NoError(err)
	require.Equal(uint64(256), id)

	_, err = parseDeliveryID([]byte{1, 2, 3})
	require.ErrorIs(err, ErrDecode)
}

func TestSessionFraming(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	c1, c2 := net.Pipe()
	s1 := NewSession(c1)
	s2 := NewSession(c2)
	defer s1.Close()
	defer s2.Close()

	sent := &Envelope{RequestID: []byte{1, 2}, Body: &Ping{Bytes: []byte("ping")}}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s1.Send(sent)
	}()
	got, err := s2.Recv()
	require.NoError(err)
	require.NoError(<-errCh)
	require.Equal(sent, got)

	// The session stays usable after a decode failure.
	go func() {
		frame := []byte{0, 0, 0, 1, 0xff}
		_, err := c1.Write(frame)
		errCh <- err
	}()
	_, err = s2.Recv()
	require.ErrorIs(err, ErrDecode)
	require.NoError(<-errCh)

	go func() {
		errCh <- s1.Send(sent)
	}()
	got, err = s2.Recv()
	require.NoError(err)
	require.NoError(<-errCh)
	require.Equal(sent, got)
}

func TestSessionRejectsOversizedFrame(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	c1, c2 := net.Pipe()
	defer c1.Close()
	s2 := NewSession(c2)
	defer s2.Close()

	go func() {
		prefix := []byte{0xff, 0xff, 0xff, 0xff}
		_, _ = c1.Write(prefix)
	}()
	_, err := s2.Recv()
	require.ErrorIs(err, ErrMessageTooLarge)
}

func TestVarintFieldEncoding(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	b := appendVarintField(nil, fieldError, uint64(ErrorInvalidCredentials))
	num, typ, n := protowire.ConsumeTag(b)
	require.True(n > 0)
	require.Equal(protowire.Number(fieldError), num)
	require.Equal(protowire.VarintType, typ)
}
