// SPDX-License-Identifier: AGPL-3.0-only

// Package wire implements the envelope protocol spoken between clients
// and the server.
//
// Every envelope optionally carries a request id; a reply echoes the id
// of the request it answers, which lets many logical request/response
// pairs share one connection.  Envelopes without a request id are fire
// and forget: server pushed mailbox notifications, challenge issuance,
// ping/pong.  The encoding is the protobuf wire format, hand written
// against encoding/protowire; the field numbers in codec.go are the
// compatibility contract.
package wire

import (
	"github.com/chipshifter/licks/core/cert"
	"github.com/chipshifter/licks/core/crypto/blindaddr"
	"github.com/chipshifter/licks/core/crypto/challenge"
	"github.com/chipshifter/licks/core/crypto/subtoken"
	"github.com/chipshifter/licks/core/identity"
)

// Error is the protocol error enumeration.
type Error uint32

const (
	// ErrorUnknown covers forward compatible unknown message variants.
	ErrorUnknown Error = 0

	// ErrorInvalidCredentials is any authorization failure: bad blinded
	// address proof, bad certificate chain, bad challenge signature.
	ErrorInvalidCredentials Error = 1

	// ErrorInvalidOperation is an operation the connection may not
	// perform in its current state.
	ErrorInvalidOperation Error = 2

	// ErrorDecode is a malformed or unsupported envelope.
	ErrorDecode Error = 3

	// ErrorInternal is a server side failure.
	ErrorInternal Error = 4

	// ErrorConnectionClosed is returned for requests racing connection
	// teardown.
	ErrorConnectionClosed Error = 5

	// ErrorInvalidRequest is a semantically invalid request.
	ErrorInvalidRequest Error = 6
)

func (e Error) String() string {
	switch e {
	case ErrorInvalidCredentials:
		return "INVALID_CREDENTIALS"
	case ErrorInvalidOperation:
		return "INVALID_OPERATION"
	case ErrorDecode:
		return "DECODE_ERROR"
	case ErrorInternal:
		return "INTERNAL_ERROR"
	case ErrorConnectionClosed:
		return "CONNECTION_IS_CLOSED"
	case ErrorInvalidRequest:
		return "INVALID_REQUEST"
	default:
		return "UNKNOWN_ERROR"
	}
}

// EmptyKind enumerates the trivial payloadless messages.
type EmptyKind uint32

const (
	// EmptyIgnore is discarded by the receiver.
	EmptyIgnore EmptyKind = 0

	// EmptyBye announces an orderly close.
	EmptyBye EmptyKind = 1

	// EmptyOk is the generic success acknowledgment.
	EmptyOk EmptyKind = 2

	// EmptyGetChallenge asks the server to issue an authentication
	// challenge.
	EmptyGetChallenge EmptyKind = 3
)

// ListenerIDLength is the length in bytes of a listener id.
const ListenerIDLength = 16

// UsernameHashLength is the length in bytes of a hashed username.
// Clients hash usernames before they ever reach the server.
const UsernameHashLength = 32

// Body is one of the closed set of top level message variants.
type Body interface {
	isBody()
}

// Envelope is the unit framed onto the connection.
type Envelope struct {
	// RequestID is nil for fire and forget messages.
	RequestID []byte
	Body      Body
}

// ErrorBody reports a protocol error to the peer.
type ErrorBody struct {
	Code Error
}

// Authenticated wraps a message that requires an authenticated
// connection.
type Authenticated struct {
	Msg AuthBody
}

// Unauthenticated wraps a message reachable without connection
// authentication.
type Unauthenticated struct {
	Msg UnauthBody
}

// Challenge carries server issued challenge bytes.
type Challenge struct {
	Challenge challenge.Challenge
}

// ChallengeResponse carries the client's authentication payload.
type ChallengeResponse struct {
	Chain           cert.Chain
	ClientBytes     challenge.Challenge
	SignatureOfHash []byte
}

// Ping requests a Pong echoing the same bytes.
type Ping struct {
	Bytes []byte
}

// Pong answers a Ping.
type Pong struct {
	Bytes []byte
}

// Empty is one of the trivial acknowledgment messages.
type Empty struct {
	Kind EmptyKind
}

// Unknown is the forward compatible catch-all for body variants this
// build does not know.
type Unknown struct{}

func (*ErrorBody) isBody()         {}
func (*Authenticated) isBody()     {}
func (*Unauthenticated) isBody()   {}
func (*Challenge) isBody()         {}
func (*ChallengeResponse) isBody() {}
func (*Ping) isBody()              {}
func (*Pong) isBody()              {}
func (*Empty) isBody()             {}
func (*Unknown) isBody()           {}

// UnauthBody is a variant of the unauthenticated channel.
type UnauthBody interface {
	isUnauthBody()
}

// Registration wraps a registration stage message.
type Registration struct {
	Msg RegistrationBody
}

// GetKeyPackage asks for one key package of the given account.
type GetKeyPackage struct {
	Account identity.AccountID
}

// HereIsKeyPackage returns a key package.
type HereIsKeyPackage struct {
	KeyPackage []byte
}

// NoKeyPackage reports that the account has no key packages.
type NoKeyPackage struct{}

// GetAccountFromUsername looks up the account owning a username hash.
type GetAccountFromUsername struct {
	UsernameHash []byte
}

// HereIsAccount returns a username lookup result.
type HereIsAccount struct {
	Account identity.AccountID
}

// NoAccount reports that no account owns the username.
type NoAccount struct{}

// ChatService wraps a mailbox operation.
type ChatService struct {
	Msg ChatBody
}

func (*Registration) isUnauthBody()           {}
func (*GetKeyPackage) isUnauthBody()          {}
func (*HereIsKeyPackage) isUnauthBody()       {}
func (*NoKeyPackage) isUnauthBody()           {}
func (*GetAccountFromUsername) isUnauthBody() {}
func (*HereIsAccount) isUnauthBody()          {}
func (*NoAccount) isUnauthBody()              {}
func (*ChatService) isUnauthBody()            {}

// AuthBody is a variant of the authenticated channel.
type AuthBody interface {
	isAuthBody()
}

// SetUsername claims a username hash for the authenticated account.
type SetUsername struct {
	UsernameHash []byte
}

// RemoveUsername releases a username hash.
type RemoveUsername struct {
	UsernameHash []byte
}

// UsernameIsAlreadyYours reports a redundant SetUsername.
type UsernameIsAlreadyYours struct{}

// UsernameIsAlreadyTaken reports a conflicting SetUsername.
type UsernameIsAlreadyTaken struct{}

// UploadKeyPackages stores fresh key packages for the account.
type UploadKeyPackages struct {
	KeyPackages [][]byte
}

// KeyPackageAlreadyUploaded reports that nothing was stored.
type KeyPackageAlreadyUploaded struct{}

func (*SetUsername) isAuthBody()               {}
func (*RemoveUsername) isAuthBody()            {}
func (*UsernameIsAlreadyYours) isAuthBody()    {}
func (*UsernameIsAlreadyTaken) isAuthBody()    {}
func (*UploadKeyPackages) isAuthBody()         {}
func (*KeyPackageAlreadyUploaded) isAuthBody() {}

// ChatBody is a variant of the chat service.  Mailbox operations are
// authorized by blinded address proof, never by connection identity.
type ChatBody interface {
	isChatBody()
}

// ListenStarted returns the id of a freshly registered listener.
type ListenStarted struct {
	ListenerID []byte
}

// RetrieveQueue asks for all stored entries with id at or above From.
type RetrieveQueue struct {
	Proof *blindaddr.Proof
	From  uint64
}

// SubscribeToAddress registers a push listener on a mailbox.
type SubscribeToAddress struct {
	Address    blindaddr.Public
	Commitment subtoken.Commitment
}

// StopListening cancels a listener; the token must open the commitment
// given at subscribe time.
type StopListening struct {
	ListenerID []byte
	Token      subtoken.Token
}

// MlsMessage carries one stored ciphertext and its delivery id, either
// during a retrieve pass or as a push notification.
type MlsMessage struct {
	DeliveryID uint64
	Body       []byte
}

// QueueDone ends a retrieve pass, carrying the last delivery id
// returned so the client can resume from there.
type QueueDone struct {
	LastID uint64
}

// QueueEmpty ends a retrieve pass that returned nothing.
type QueueEmpty struct{}

// SendMessage appends the proof's payload to the mailbox.
type SendMessage struct {
	Proof *blindaddr.Proof
}

// Delivered acknowledges a SendMessage with the assigned delivery id.
type Delivered struct {
	DeliveryID uint64
}

// Acknowledge deletes a delivered entry from the mailbox.
type Acknowledge struct {
	Proof      *blindaddr.Proof
	DeliveryID uint64
}

func (*ListenStarted) isChatBody()      {}
func (*RetrieveQueue) isChatBody()      {}
func (*SubscribeToAddress) isChatBody() {}
func (*StopListening) isChatBody()      {}
func (*MlsMessage) isChatBody()         {}
func (*QueueDone) isChatBody()          {}
func (*QueueEmpty) isChatBody()         {}
func (*SendMessage) isChatBody()        {}
func (*Delivered) isChatBody()          {}
func (*Acknowledge) isChatBody()        {}

// RegistrationBody is a stage of the three stage account registration.
type RegistrationBody interface {
	isRegistrationBody()
}

// HereIsMyAccountPublicKey opens registration with the account public
// key (stage 1 request).
type HereIsMyAccountPublicKey struct {
	PublicKey []byte
}

// HereIsYourAccountID allocates an account id (stage 1 reply).
type HereIsYourAccountID struct {
	Account identity.AccountID
}

// HereIsMyAccountCertificate submits the self signed account
// certificate (stage 2).
type HereIsMyAccountCertificate struct {
	Cert cert.Certificate
}

// HereIsMyChain completes registration with the full chain and the
// initial username (stage 3).
type HereIsMyChain struct {
	Chain        cert.Chain
	UsernameHash []byte
}

func (*HereIsMyAccountPublicKey) isRegistrationBody()   {}
func (*HereIsYourAccountID) isRegistrationBody()        {}
func (*HereIsMyAccountCertificate) isRegistrationBody() {}
func (*HereIsMyChain) isRegistrationBody()              {}
