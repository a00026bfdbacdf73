// Copyright (C) 2025 lattice-chat
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package keys

import (
	"fmt"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
)

// DeviceSecret is a device's long-lived key bundle: a signing secret
// plus its medium-term DH secret.
type DeviceSecret struct {
	Signing *SigningSecret
	Dh      *DhSecret
}

// DevicePublic is the public half of a DeviceSecret, as published in
// device certificates and directory records.
type DevicePublic struct {
	Signing SigningPublic
	Dh      DhPublic
}

// GenerateDeviceSecret creates a fresh device identity.
func GenerateDeviceSecret() (*DeviceSecret, error) {
	signing, err := GenerateSigningSecret()
	if err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	dh, err := GenerateDhSecret()
	if err != nil {
		return nil, fmt.Errorf("generate dh secret: %w", err)
	}
	return &DeviceSecret{Signing: signing, Dh: dh}, nil
}

// Public returns the DevicePublic matching this secret.
func (d *DeviceSecret) Public() DevicePublic {
	return DevicePublic{Signing: d.Signing.Public(), Dh: d.Dh.Public()}
}

// Sign signs msg with the device's signing secret.
func (d *DeviceSecret) Sign(msg []byte) ([]byte, error) {
	return d.Signing.Sign(msg)
}

// Hash returns the BLAKE3 hash used to anchor this device public in a
// directory UserDescriptor's root_cert_hash.
func (p DevicePublic) Hash() latticecrypto.Hash {
	return latticecrypto.Digest(append(append([]byte{}, p.Signing.Bytes()...), p.Dh.Bytes()...))
}

// Verify verifies a signature made by the matching DeviceSecret.
func (p DevicePublic) Verify(msg, sig []byte) error {
	return p.Signing.Verify(msg, sig)
}

// Equal reports whether two DevicePublics name the same device.
func (p DevicePublic) Equal(other DevicePublic) bool {
	return string(p.Signing.Bytes()) == string(other.Signing.Bytes()) &&
		string(p.Dh.Bytes()) == string(other.Dh.Bytes())
}
