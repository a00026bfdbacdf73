// SPDX-License-Identifier: LGPL-3.0-or-later

package wire

import (
	"fmt"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
)

// Message is a tagged blob mailbox payload: Kind identifies the
// versioned schema of Inner (e.g. "v1.direct_message",
// "v1.group_message", "v1.group_rekey"); Inner is that schema's own
// canonical or envelope encoding, opaque at this layer.
type Message struct {
	Kind  string
	Inner []byte
}

// Message kind tags recognized by the server's ACL-exempt check and the
// client's receive loops.
const (
	MessageKindDirect     = "v1.direct_message"
	MessageKindGroup      = "v1.group_message"
	MessageKindGroupRekey = "v1.group_rekey"
)

// Encode returns Message's canonical bytes for mailbox storage.
func (m Message) Encode() []byte {
	e := NewEncoder()
	e.Str(m.Kind).Blob(m.Inner)
	return e.Bytes()
}

// DecodeMessage parses bytes produced by Message.Encode.
func DecodeMessage(b []byte) (Message, error) {
	d := NewDecoder(b)
	kind, err := d.Str()
	if err != nil {
		return Message{}, err
	}
	inner, err := d.Blob()
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: kind, Inner: inner}, nil
}

// PlainContent is the application-level payload carried inside an
// envelope's plaintext: a MIME type tag plus the raw body, so a
// recipient can render text, images, or any other future content type
// without a second round trip. Distinct from Message, which tags the
// outer, still-encrypted mailbox payload.
type PlainContent struct {
	Mime string
	Body []byte
}

// Encode returns c's canonical bytes, the plaintext sealed inside an
// Envelope.
func (c PlainContent) Encode() []byte {
	e := NewEncoder()
	e.Str(c.Mime).Blob(c.Body)
	return e.Bytes()
}

// DecodePlainContent parses bytes produced by PlainContent.Encode.
func DecodePlainContent(b []byte) (PlainContent, error) {
	d := NewDecoder(b)
	mime, err := d.Str()
	if err != nil {
		return PlainContent{}, err
	}
	body, err := d.Blob()
	if err != nil {
		return PlainContent{}, err
	}
	return PlainContent{Mime: mime, Body: body}, nil
}

// AclExemptKinds are message kinds a mailbox's ACL does not gate,
// letting an unknown sender reach a mailbox for first contact.
var AclExemptKinds = map[string]bool{
	MessageKindDirect: true,
}

const signedMediumPkDomainTag = "lattice.signed_medium_pk.v1"

// SignedMediumPk is a device's short-lived DH public key, rotated
// hourly and signed by the device's long-term signing secret so
// a recipient can trust it came from an already-authenticated device.
type SignedMediumPk struct {
	MediumPk  [32]byte
	Created   Timestamp
	Signature [64]byte
}

// CanonicalBytes implements crypto.Signable.
func (s *SignedMediumPk) CanonicalBytes() []byte {
	e := NewEncoder()
	e.Bytes32(s.MediumPk[:]).I64(int64(s.Created))
	return e.Bytes()
}

// DomainTag implements crypto.Signable.
func (s *SignedMediumPk) DomainTag() string { return signedMediumPkDomainTag }

// SetSignature implements crypto.Signable.
func (s *SignedMediumPk) SetSignature(sig []byte) error {
	if len(sig) != 64 {
		return fmt.Errorf("wire: signed medium pk signature must be 64 bytes, got %d", len(sig))
	}
	copy(s.Signature[:], sig)
	return nil
}

// GetSignature implements crypto.Signable.
func (s *SignedMediumPk) GetSignature() []byte {
	if s.Signature == ([64]byte{}) {
		return nil
	}
	return s.Signature[:]
}

// EncodeSignedMediumPk serializes s (canonical bytes + signature) for
// durable storage.
func EncodeSignedMediumPk(s SignedMediumPk) []byte {
	return EncodeSignedRecord(&s)
}

// DecodeSignedMediumPk parses bytes produced by EncodeSignedMediumPk.
func DecodeSignedMediumPk(b []byte) (SignedMediumPk, error) {
	if len(b) < 64 {
		return SignedMediumPk{}, fmt.Errorf("wire: signed medium pk record too short")
	}
	d := NewDecoder(b[:len(b)-64])
	mediumPk, err := d.Bytes32()
	if err != nil {
		return SignedMediumPk{}, err
	}
	created, err := d.I64()
	if err != nil {
		return SignedMediumPk{}, err
	}
	var out SignedMediumPk
	copy(out.MediumPk[:], mediumPk)
	out.Created = Timestamp(created)
	copy(out.Signature[:], b[len(b)-64:])
	return out, nil
}

const userProfileDomainTag = "lattice.profile.v1"

// UserProfile is the server's cached, device-signed profile for a
// user (v1_profile): a small set of human-facing fields, signed by
// whichever device published it so any of the user's currently-valid
// devices can be checked against it.
type UserProfile struct {
	Username    UserName
	DisplayName string
	AvatarHash  latticecrypto.Hash
	UpdatedAt   Timestamp
	Signature   [64]byte
}

// CanonicalBytes implements crypto.Signable.
func (p *UserProfile) CanonicalBytes() []byte {
	e := NewEncoder()
	e.Str(p.Username.String()).Str(p.DisplayName).Bytes32(p.AvatarHash.Bytes()).I64(int64(p.UpdatedAt))
	return e.Bytes()
}

// DomainTag implements crypto.Signable.
func (p *UserProfile) DomainTag() string { return userProfileDomainTag }

// SetSignature implements crypto.Signable.
func (p *UserProfile) SetSignature(sig []byte) error {
	if len(sig) != 64 {
		return fmt.Errorf("wire: user profile signature must be 64 bytes, got %d", len(sig))
	}
	copy(p.Signature[:], sig)
	return nil
}

// GetSignature implements crypto.Signable.
func (p *UserProfile) GetSignature() []byte {
	if p.Signature == ([64]byte{}) {
		return nil
	}
	return p.Signature[:]
}
