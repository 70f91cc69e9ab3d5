// Package brand records which signers may issue orders on behalf of a brand
// and which brands have committed to covering platform fees.
package brand

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

const (
	signersKeyPrefix = "brand:signers:"
	committedKey     = "brand:committed"
)

// Permissions is what settlement asks of a brand registry.
type Permissions interface {
	IsSignerAuthorized(ctx context.Context, brand, signer common.Address) (bool, error)
	IsBrandCommitted(ctx context.Context, brand common.Address) (bool, error)
}

// Registry keeps brand permissions in Redis sets.
type Registry struct {
	rdb *redis.Client
}

func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

var _ Permissions = (*Registry)(nil)

func signersKey(brand common.Address) string {
	return signersKeyPrefix + member(brand)
}

func member(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func (r *Registry) IsSignerAuthorized(ctx context.Context, brand, signer common.Address) (bool, error) {
	return r.rdb.SIsMember(ctx, signersKey(brand), member(signer)).Result()
}

func (r *Registry) IsBrandCommitted(ctx context.Context, brand common.Address) (bool, error) {
	return r.rdb.SIsMember(ctx, committedKey, member(brand)).Result()
}

func (r *Registry) Authorize(ctx context.Context, brand, signer common.Address) error {
	return r.rdb.SAdd(ctx, signersKey(brand), member(signer)).Err()
}

func (r *Registry) Revoke(ctx context.Context, brand, signer common.Address) error {
	return r.rdb.SRem(ctx, signersKey(brand), member(signer)).Err()
}

// SetCommitted marks or unmarks brand as covering platform fees.
func (r *Registry) SetCommitted(ctx context.Context, brand common.Address, committed bool) error {
	if committed {
		return r.rdb.SAdd(ctx, committedKey, member(brand)).Err()
	}
	return r.rdb.SRem(ctx, committedKey, member(brand)).Err()
}

// Signers lists the signers authorized for brand.
func (r *Registry) Signers(ctx context.Context, brand common.Address) ([]common.Address, error) {
	vals, err := r.rdb.SMembers(ctx, signersKey(brand)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(vals))
	for _, v := range vals {
		out = append(out, common.HexToAddress(v))
	}
	return out, nil
}
