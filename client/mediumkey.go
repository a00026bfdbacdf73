// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"context"
	"fmt"
	"time"

	latticecrypto "github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/wire"
)

// MediumKeyRotationInterval is how often the client generates a fresh
// medium-term DH key and registers it with its home server.
const MediumKeyRotationInterval = time.Hour

// RunMediumKeyLoop rotates the device's medium-term DH key once per
// MediumKeyRotationInterval, looping until ctx is cancelled. The very
// first rotation (out of Provisioning state, identity.MediumSkCurrent
// nil) happens immediately rather than waiting a full interval, since
// the identity cannot send or receive until it has registered one.
func RunMediumKeyLoop(ctx context.Context, d *SendDeps) error {
	if d.Identity.MediumSkCurrent == nil {
		if err := d.rotateMediumKey(ctx); err != nil {
			return fmt.Errorf("client: medium key loop: initial rotation: %w", err)
		}
	}

	ticker := time.NewTicker(MediumKeyRotationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.rotateMediumKey(ctx); err != nil {
				return fmt.Errorf("client: medium key loop: %w", err)
			}
		}
	}
}

// rotateMediumKey generates a new medium-term DH secret, registers its
// signed public half with the home server, and only then atomically
// updates the identity row — current becomes previous, new becomes
// current. A secret is thus recorded locally only after the server has
// accepted its public half; if updating the row fails after
// registration, the server holds a public key this device has no
// secret for, and the error is returned.
func (d *SendDeps) rotateMediumKey(ctx context.Context) error {
	fresh, err := keys.GenerateDhSecret()
	if err != nil {
		return fmt.Errorf("generate medium key: %w", err)
	}

	signed := wire.SignedMediumPk{Created: wire.Now()}
	copy(signed.MediumPk[:], fresh.Public().Bytes())
	h := latticecrypto.SignableHash(&signed)
	sig, err := d.Identity.Device.Sign(h[:])
	if err != nil {
		return fmt.Errorf("sign medium pk: %w", err)
	}
	if err := signed.SetSignature(sig); err != nil {
		return err
	}

	ownDesc, err := resolveOwnServer(ctx, d)
	if err != nil {
		return err
	}
	rc, err := d.Servers.Get(ownDesc)
	if err != nil {
		return fmt.Errorf("server pool: %w", err)
	}
	token, err := d.Auth.Token(ctx, ownDesc.ServerName, rc)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	err = rc.Call(ctx, "v1_device_add_medium_pk", addMediumPkParams{
		Auth:           token,
		SignedMediumPk: wire.EncodeSignedMediumPk(signed),
	}, nil)
	if err != nil {
		return fmt.Errorf("add medium pk: %w", err)
	}

	var prevBytes []byte
	if d.Identity.MediumSkCurrent != nil {
		prevBytes = d.Identity.MediumSkCurrent.Bytes()
	}
	if err := d.Store.SetMediumKeys(ctx, fresh.Bytes(), prevBytes, int64(signed.Created)); err != nil {
		return fmt.Errorf("persist medium keys: %w", err)
	}

	d.Identity.MediumSkPrev = d.Identity.MediumSkCurrent
	d.Identity.MediumSkCurrent = fresh
	return nil
}

type addMediumPkParams struct {
	Auth           string `json:"auth"`
	SignedMediumPk []byte `json:"signed_medium_pk"`
}
