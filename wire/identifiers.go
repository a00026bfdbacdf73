// SPDX-License-Identifier: LGPL-3.0-or-later

package wire

import (
	"fmt"
	"regexp"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
)

var usernamePattern = regexp.MustCompile(`^@[A-Za-z0-9_]{5,15}$`)

// UserName is a validated "@handle", 5-15 characters from [A-Za-z0-9_]
// after the leading "@". Case-sensitive.
type UserName string

// ParseUserName validates s against the username grammar.
func ParseUserName(s string) (UserName, error) {
	if !usernamePattern.MatchString(s) {
		return "", fmt.Errorf("%w: username %q", ErrBadRequest, s)
	}
	return UserName(s), nil
}

// String returns the raw "@handle" text.
func (u UserName) String() string {
	return string(u)
}

// ServerName is a validated federation member name, same grammar family
// as UserName but a distinct type so the two are never confused at
// compile time.
type ServerName string

// ParseServerName validates s against the server-name grammar.
func ParseServerName(s string) (ServerName, error) {
	if !usernamePattern.MatchString(s) {
		return "", fmt.Errorf("%w: server name %q", ErrBadRequest, s)
	}
	return ServerName(s), nil
}

// String returns the raw "@handle" text.
func (s ServerName) String() string {
	return string(s)
}

// MailboxId is an opaque 32-byte mailbox identifier.
type MailboxId [32]byte

// String renders m as hex.
func (m MailboxId) String() string {
	return fmt.Sprintf("%x", m[:])
}

// GroupId is an opaque 32-byte group identifier.
type GroupId [32]byte

// String renders g as hex.
func (g GroupId) String() string {
	return fmt.Sprintf("%x", g[:])
}

const dmMailboxIdDomainTag = "lattice.mailbox_id.dm.v1"

// MailboxIdForConversation derives the id of owner's inbox for messages
// from peer. Every user keeps one mailbox per correspondent rather than
// one shared mailbox for all incoming traffic, so a per-peer since_seq
// cursor (client/store's dm_cursors table) names a real distinct server
// mailbox and an ACL revoke against one peer cannot affect any other
// conversation's delivery.
//
// The derivation is intentionally asymmetric in (owner, peer): owner's
// inbox for peer is a different id than peer's inbox for owner. A
// sender addresses the recipient's inbox by calling this with
// (recipient, self) — exactly the id the recipient itself polls under
// (self, sender).
func MailboxIdForConversation(owner, peer UserName) MailboxId {
	h := latticecrypto.KeyedDigest([]byte(dmMailboxIdDomainTag), []byte(owner.String()+"\x00"+peer.String()))
	var id MailboxId
	copy(id[:], h.Bytes())
	return id
}

const groupMailboxIdDomainTag = "lattice.mailbox_id.group.v1"

// MailboxIdForGroup derives a group's single shared mailbox id. Unlike
// a direct-message inbox, a group's mailbox is genuinely shared: every
// current member is both a writer and a reader of the same ordered
// stream, so the derivation only needs to be a function of the group id.
func MailboxIdForGroup(groupID GroupId) MailboxId {
	h := latticecrypto.KeyedDigest([]byte(groupMailboxIdDomainTag), groupID[:])
	var id MailboxId
	copy(id[:], h.Bytes())
	return id
}
