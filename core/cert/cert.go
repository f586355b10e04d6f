// SPDX-License-Identifier: AGPL-3.0-only

// Package cert implements the account to device certificate chain.
//
// A chain delegates trust from one long lived account key to one device
// key: the account certificate is self signed over the account identity,
// the device certificate is self signed over the device identity, and the
// account key signs the device certificate.  A connection that proves
// possession of the device key therefore proves it acts for the account.
package cert

import (
	"errors"

	"github.com/fxamacker/cbor/v2"

	"github.com/katzenpost/hpqc/sign"
	"github.com/katzenpost/hpqc/sign/schemes"

	"github.com/chipshifter/licks/core/identity"
)

var (
	// ErrInvalidCertificate is the uniform verification failure.  Which
	// signature failed is deliberately not disclosed.
	ErrInvalidCertificate = errors.New("cert: certificate chain verification failed")

	// ErrUnsupportedScheme is returned at decode time for a signature
	// scheme this build does not support.
	ErrUnsupportedScheme = errors.New("cert: unsupported signature scheme")

	// Reusable deterministic encoder, safe for concurrent use.
	ccbor cbor.EncMode
)

// SchemeID selects the signature scheme used by a certificate.  The
// numeric values are part of the wire compatibility contract.
type SchemeID uint32

const (
	// SchemeEd25519 is pure Ed25519.
	SchemeEd25519 SchemeID = 1

	// SchemeEd25519SphincsPlus is the hybrid Ed25519 Sphincs+ scheme.
	SchemeEd25519SphincsPlus SchemeID = 2

	// SchemeEdDilithium2 is the hybrid Ed25519-Dilithium2 scheme.
	SchemeEdDilithium2 SchemeID = 3

	// SchemeEdDilithium3 is the hybrid Ed448-Dilithium3 scheme.
	SchemeEdDilithium3 SchemeID = 4
)

var schemeNames = map[SchemeID]string{
	SchemeEd25519:            "Ed25519",
	SchemeEd25519SphincsPlus: "Ed25519 Sphincs+",
	SchemeEdDilithium2:       "Ed25519-Dilithium2",
	SchemeEdDilithium3:       "Ed448-Dilithium3",
}

// Scheme returns the signature scheme for the identifier, or
// ErrUnsupportedScheme when this build does not carry it.
func (id SchemeID) Scheme() (sign.Scheme, error) {
	name, ok := schemeNames[id]
	if !ok {
		return nil, ErrUnsupportedScheme
	}
	s := schemes.ByName(name)
	if s == nil {
		return nil, ErrUnsupportedScheme
	}
	return s, nil
}

// Certificate is a self signed binding of a public key to an identity.
// Data carries the certified identity: an AccountID for account
// certificates, a DeviceID for device certificates.
type Certificate struct {
	Scheme        SchemeID
	PublicKey     []byte
	SelfSignature []byte
	Data          []byte
}

// message returns the canonical bytes covered by the self signature.
func (c *Certificate) message() []byte {
	m := make([]byte, 0, len(c.Data)+len(c.PublicKey))
	m = append(m, c.Data...)
	m = append(m, c.PublicKey...)
	return m
}

// Bytes returns the canonical encoding of the certificate.  The account
// to device delegation signature covers this encoding.
func (c *Certificate) Bytes() []byte {
	b, err := ccbor.Marshal(c)
	if err != nil {
		panic(err)
	}
	return b
}

// verifySelf checks the self signature and returns the certified
// public key.
func (c *Certificate) verifySelf() (sign.PublicKey, error) {
	scheme, err := c.Scheme.Scheme()
	if err != nil {
		return nil, err
	}
	pub, err := scheme.UnmarshalBinaryPublicKey(c.PublicKey)
	if err != nil {
		return nil, ErrInvalidCertificate
	}
	if !scheme.Verify(pub, c.message(), c.SelfSignature, nil) {
		return nil, ErrInvalidCertificate
	}
	return pub, nil
}

// VerifySelf checks the certificate's self signature.
func (c *Certificate) VerifySelf() error {
	_, err := c.verifySelf()
	return err
}

// selfSign builds a certificate over data with the given keypair.
func selfSign(id SchemeID, data []byte, pub sign.PublicKey, priv sign.PrivateKey) (Certificate, error) {
	scheme, err := id.Scheme()
	if err != nil {
		return Certificate{}, err
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return Certificate{}, err
	}
	c := Certificate{
		Scheme:    id,
		PublicKey: pubBytes,
		Data:      data,
	}
	c.SelfSignature = scheme.Sign(priv, c.message(), nil)
	return c, nil
}

// NewAccountCertificate builds a self signed account certificate.
func NewAccountCertificate(id SchemeID, account identity.AccountID, pub sign.PublicKey, priv sign.PrivateKey) (Certificate, error) {
	return selfSign(id, account.Bytes(), pub, priv)
}

// NewDeviceCertificate builds a self signed device certificate.
func NewDeviceCertificate(id SchemeID, device identity.DeviceID, pub sign.PublicKey, priv sign.PrivateKey) (Certificate, error) {
	return selfSign(id, device.Bytes(), pub, priv)
}

// Chain is the public certificate chain presented during challenge
// response authentication.
type Chain struct {
	AccountCert        Certificate
	AccountToDeviceSig []byte
	DeviceCert         Certificate
}

// BindChain signs the device certificate with the account key, producing
// the full delegation chain.
func BindChain(accountCert Certificate, accountPriv sign.PrivateKey, deviceCert Certificate) (*Chain, error) {
	scheme, err := accountCert.Scheme.Scheme()
	if err != nil {
		return nil, err
	}
	return &Chain{
		AccountCert:        accountCert,
		AccountToDeviceSig: scheme.Sign(accountPriv, deviceCert.Bytes(), nil),
		DeviceCert:         deviceCert,
	}, nil
}

// Verify checks every signature in the chain and returns the certified
// account and device identities.  All failures collapse into
// ErrInvalidCertificate.
func (ch *Chain) Verify() (identity.AccountID, identity.DeviceID, error) {
	accountPub, err := ch.AccountCert.verifySelf()
	if err != nil {
		return identity.AccountID{}, identity.DeviceID{}, err
	}
	if _, err = ch.DeviceCert.verifySelf(); err != nil {
		return identity.AccountID{}, identity.DeviceID{}, err
	}

	scheme, err := ch.AccountCert.Scheme.Scheme()
	if err != nil {
		return identity.AccountID{}, identity.DeviceID{}, err
	}
	if !scheme.Verify(accountPub, ch.DeviceCert.Bytes(), ch.AccountToDeviceSig, nil) {
		return identity.AccountID{}, identity.DeviceID{}, ErrInvalidCertificate
	}

	account, err := identity.AccountIDFromBytes(ch.AccountCert.Data)
	if err != nil {
		return identity.AccountID{}, identity.DeviceID{}, ErrInvalidCertificate
	}
	device, err := identity.DeviceIDFromBytes(ch.DeviceCert.Data)
	if err != nil {
		return identity.AccountID{}, identity.DeviceID{}, ErrInvalidCertificate
	}
	return account, device, nil
}

// VerifyDeviceSignature checks a signature made by the chain's device
// key.  The chain itself is assumed already verified.
func (ch *Chain) VerifyDeviceSignature(message, signature []byte) error {
	scheme, err := ch.DeviceCert.Scheme.Scheme()
	if err != nil {
		return err
	}
	pub, err := scheme.UnmarshalBinaryPublicKey(ch.DeviceCert.PublicKey)
	if err != nil {
		return ErrInvalidCertificate
	}
	if !scheme.Verify(pub, message, signature, nil) {
		return ErrInvalidCertificate
	}
	return nil
}

// Marshal serializes the chain for storage.
func (ch *Chain) Marshal() ([]byte, error) {
	return ccbor.Marshal(ch)
}

// Unmarshal deserializes a stored chain.
func (ch *Chain) Unmarshal(b []byte) error {
	return cbor.Unmarshal(b, ch)
}

// ChainSecret is the client side of a chain: the public chain plus both
// private keys.
type ChainSecret struct {
	Chain

	AccountPriv sign.PrivateKey
	DevicePriv  sign.PrivateKey
}

// NewChainSecret generates fresh account and device keys and the chain
// binding them.
func NewChainSecret(id SchemeID, account identity.AccountID, device identity.DeviceID) (*ChainSecret, error) {
	scheme, err := id.Scheme()
	if err != nil {
		return nil, err
	}

	accountPub, accountPriv, err := scheme.GenerateKey()
	if err != nil {
		return nil, err
	}
	devicePub, devicePriv, err := scheme.GenerateKey()
	if err != nil {
		return nil, err
	}

	accountCert, err := NewAccountCertificate(id, account, accountPub, accountPriv)
	if err != nil {
		return nil, err
	}
	deviceCert, err := NewDeviceCertificate(id, device, devicePub, devicePriv)
	if err != nil {
		return nil, err
	}
	chain, err := BindChain(accountCert, accountPriv, deviceCert)
	if err != nil {
		return nil, err
	}

	return &ChainSecret{
		Chain:       *chain,
		AccountPriv: accountPriv,
		DevicePriv:  devicePriv,
	}, nil
}

// SignWithDevice signs message with the device key.
func (cs *ChainSecret) SignWithDevice(message []byte) []byte {
	scheme, err := cs.DeviceCert.Scheme.Scheme()
	if err != nil {
		panic(err)
	}
	return scheme.Sign(cs.DevicePriv, message, nil)
}

func init() {
	var err error
	opts := cbor.CanonicalEncOptions()
	ccbor, err = opts.EncMode()
	if err != nil {
		panic(err)
	}
}
