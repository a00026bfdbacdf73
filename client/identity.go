// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"context"
	"fmt"
	"time"

	"github.com/lattice-chat/lattice/client/store"
	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/wire"
)

// LoadedIdentity is the client's in-memory view of its durable identity
// row: the parsed username and reconstructed key material, so callers
// never juggle raw seed bytes after Load.
type LoadedIdentity struct {
	Username        wire.UserName
	HomeServer      wire.ServerName
	Device          *keys.DeviceSecret
	MediumSkCurrent *keys.DhSecret
	MediumSkPrev    *keys.DhSecret
	State           store.IdentityState
}

// LoadIdentity reads the singleton identity row and reconstructs its
// key material, or returns store.ErrNoIdentity if none has been
// provisioned yet (bootstrap state Absent).
func LoadIdentity(ctx context.Context, st *store.Store) (*LoadedIdentity, error) {
	row, err := st.LoadIdentity(ctx)
	if err != nil {
		return nil, err
	}
	username, err := wire.ParseUserName(row.Username)
	if err != nil {
		return nil, fmt.Errorf("client: load identity: %w", err)
	}
	signing, err := keys.SigningSecretFromSeed(row.SigningSeed)
	if err != nil {
		return nil, fmt.Errorf("client: load identity: signing key: %w", err)
	}
	dh, err := keys.DhSecretFromBytes(row.DhSeed)
	if err != nil {
		return nil, fmt.Errorf("client: load identity: dh key: %w", err)
	}
	li := &LoadedIdentity{
		Username: username,
		Device:   &keys.DeviceSecret{Signing: signing, Dh: dh},
		State:    row.State,
	}
	if row.ServerName != "" {
		home, err := wire.ParseServerName(row.ServerName)
		if err != nil {
			return nil, fmt.Errorf("client: load identity: cached server name: %w", err)
		}
		li.HomeServer = home
	}
	if len(row.MediumSkCurrent) > 0 {
		cur, err := keys.DhSecretFromBytes(row.MediumSkCurrent)
		if err != nil {
			return nil, fmt.Errorf("client: load identity: medium key current: %w", err)
		}
		li.MediumSkCurrent = cur
	}
	if len(row.MediumSkPrev) > 0 {
		prev, err := keys.DhSecretFromBytes(row.MediumSkPrev)
		if err != nil {
			return nil, fmt.Errorf("client: load identity: medium key prev: %w", err)
		}
		li.MediumSkPrev = prev
	}
	return li, nil
}

// Provision creates a brand-new client identity: a fresh device secret
// rooting its own one-certificate chain (the device is its own root,
// so RootCertHash is simply the device public's hash), written to the
// store in Provisioning state (Absent -> Provisioning).
//
// It does not register with the directory or home server; callers
// drive that over RPC afterward and call Store.SetMediumKeys once the
// server has accepted the first medium pk, which is what flips the
// row to Ready. The returned chain holds the device's self-signed
// root certificate, the same chain SelfCertChain rebuilds for every
// later v1_device_auth.
func Provision(ctx context.Context, st *store.Store, username wire.UserName, homeServer wire.ServerName) (*LoadedIdentity, *wire.CertificateChain, error) {
	device, err := keys.GenerateDeviceSecret()
	if err != nil {
		return nil, nil, fmt.Errorf("client: provision: generate device secret: %w", err)
	}

	if err := st.CreateIdentity(ctx, username.String(), homeServer.String(), device.Signing.Seed(), device.Dh.Bytes()); err != nil {
		return nil, nil, fmt.Errorf("client: provision: %w", err)
	}

	chain, err := SelfCertChain(device)
	if err != nil {
		return nil, nil, fmt.Errorf("client: provision: %w", err)
	}

	return &LoadedIdentity{
		Username:   username,
		HomeServer: homeServer,
		Device:     device,
		State:      store.StateProvisioning,
	}, chain, nil
}

// selfCertLifetime is the validity window of a device's self-signed
// root certificate. The root is re-signed on demand (SelfCertChain),
// so the window only needs to comfortably outlive any one session
// token, not the identity itself.
const selfCertLifetime = 30 * 24 * time.Hour

// SelfCertChain builds the one-certificate chain a self-rooted device
// presents to v1_device_auth: issuer and subject are both the device
// itself, so the chain verifies against RootCertHash =
// device.Public().Hash() and carries the root's public keys for the
// server to pin.
func SelfCertChain(device *keys.DeviceSecret) (*wire.CertificateChain, error) {
	now := wire.Now()
	cert := &wire.DeviceCertificate{
		Issuer:    device.Public(),
		Subject:   device.Public(),
		NotBefore: now,
		NotAfter:  wire.Timestamp(int64(now) + int64(selfCertLifetime)),
	}
	if err := latticecrypto.SignStruct(cert, device.Signing); err != nil {
		return nil, fmt.Errorf("client: sign self certificate: %w", err)
	}
	chain := wire.NewCertificateChain()
	chain.Insert(cert)
	return chain, nil
}

// RootCertHash returns the hash a freshly provisioned identity's own
// device public anchors to: the root of its certificate chain.
func (li *LoadedIdentity) RootCertHash() [32]byte {
	h := li.Device.Public().Hash()
	var out [32]byte
	copy(out[:], h.Bytes())
	return out
}
