package corridor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stellar/go/strkey"
)

const nativeCode = "XLM"

// Asset identifies a Stellar asset. Native lumens carry no issuer.
type Asset struct {
	Code   string
	Issuer string
	Native bool
}

// NativeAsset returns the lumen asset.
func NativeAsset() Asset {
	return Asset{Code: nativeCode, Native: true}
}

// String renders the asset as CODE:ISSUER, or XLM:native for lumens.
func (a Asset) String() string {
	if a.Native {
		return nativeCode + ":native"
	}
	return a.Code + ":" + a.Issuer
}

// Equal reports whether both assets are the same on-ledger asset.
func (a Asset) Equal(other Asset) bool {
	if a.Native || other.Native {
		return a.Native == other.Native
	}
	return a.Code == other.Code && a.Issuer == other.Issuer
}

// ParseAsset is the inverse of Asset.String.
func ParseAsset(s string) (Asset, error) {
	code, issuer, ok := strings.Cut(s, ":")
	if !ok || code == "" || issuer == "" {
		return Asset{}, fmt.Errorf("invalid asset %q", s)
	}
	if issuer == "native" {
		if code != nativeCode {
			return Asset{}, fmt.Errorf("invalid native asset %q", s)
		}
		return NativeAsset(), nil
	}
	asset := Asset{Code: code, Issuer: issuer}
	if err := validateCredit(asset); err != nil {
		return Asset{}, err
	}
	return asset, nil
}

func validateCredit(a Asset) error {
	if n := len(a.Code); n == 0 || n > 12 {
		return fmt.Errorf("asset code %q must be 1-12 characters", a.Code)
	}
	if !strkey.IsValidEd25519PublicKey(a.Issuer) {
		return fmt.Errorf("asset issuer %q is not a valid account id", a.Issuer)
	}
	return nil
}

// AssetPair is the directional (source, destination) pair of a payment.
type AssetPair struct {
	Source      Asset
	Destination Asset
}

// CorridorKey is the directional identifier used for aggregation and hashing.
func (p AssetPair) CorridorKey() string {
	return p.Source.String() + "->" + p.Destination.String()
}

// DisplayKey orders both legs alphabetically so A->B and B->A render alike.
// It is presentation only.
func (p AssetPair) DisplayKey() string {
	legs := []string{p.Source.String(), p.Destination.String()}
	sort.Strings(legs)
	return legs[0] + " <-> " + legs[1]
}

// SameAsset reports whether the payment did not cross assets.
func (p AssetPair) SameAsset() bool {
	return p.Source.Equal(p.Destination)
}

// Issuers returns the distinct issuers of both legs, natives excluded.
func (p AssetPair) Issuers() []string {
	var out []string
	for _, a := range []Asset{p.Source, p.Destination} {
		if a.Native {
			continue
		}
		if len(out) == 1 && out[0] == a.Issuer {
			continue
		}
		out = append(out, a.Issuer)
	}
	return out
}

// ParseCorridorKey is the inverse of AssetPair.CorridorKey.
func ParseCorridorKey(key string) (AssetPair, error) {
	src, dst, ok := strings.Cut(key, "->")
	if !ok {
		return AssetPair{}, fmt.Errorf("invalid corridor key %q", key)
	}
	source, err := ParseAsset(src)
	if err != nil {
		return AssetPair{}, fmt.Errorf("corridor key %q: %w", key, err)
	}
	destination, err := ParseAsset(dst)
	if err != nil {
		return AssetPair{}, fmt.Errorf("corridor key %q: %w", key, err)
	}
	return AssetPair{Source: source, Destination: destination}, nil
}
