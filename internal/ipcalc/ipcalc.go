// Package ipcalc provides pure IPv4 arithmetic over CIDR blocks: offset
// decomposition, offset-preserving translation between equally-sized
// subnets, gateway derivation, and free-block search within a pool.
package ipcalc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

var (
	// ErrNotInSubnet reports an address outside the subnet it was expected in
	ErrNotInSubnet = errors.New("address not in subnet")
	// ErrIncompatibleSize reports a translation between subnets of
	// different prefix lengths
	ErrIncompatibleSize = errors.New("incompatible subnet sizes")
	// ErrInsufficientSpace reports a pool too small for the requested
	// number of free blocks
	ErrInsufficientSpace = errors.New("insufficient address space")
)

func addrToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

func uint32ToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

// AddrCount is the total number of addresses in an IPv4 subnet
func AddrCount(subnet netip.Prefix) uint32 {
	return 1 << (32 - subnet.Bits())
}

// OffsetWithin returns the position of addr inside subnet, counted from the
// network address
func OffsetWithin(subnet netip.Prefix, addr netip.Addr) (uint32, error) {
	if !addr.Is4() || !subnet.Contains(addr) {
		return 0, fmt.Errorf("%w: %s not in %s", ErrNotInSubnet, addr, subnet)
	}
	return addrToUint32(addr) - addrToUint32(subnet.Masked().Addr()), nil
}

// AddrAt returns subnet base + offset
func AddrAt(subnet netip.Prefix, offset uint32) netip.Addr {
	return uint32ToAddr(addrToUint32(subnet.Masked().Addr()) + offset)
}

// GatewayOf returns the reserved first host address of a subnet, base+1,
// as assigned by the Docker bridge driver
func GatewayOf(subnet netip.Prefix) netip.Addr {
	return AddrAt(subnet, 1)
}

// Translate maps addr from old to new, preserving its offset within the
// subnet. Old and new must have equal prefix lengths.
func Translate(old, new netip.Prefix, addr netip.Addr) (netip.Addr, error) {
	if old.Bits() != new.Bits() {
		return netip.Addr{}, fmt.Errorf("%w: /%d vs /%d", ErrIncompatibleSize, old.Bits(), new.Bits())
	}
	offset, err := OffsetWithin(old, addr)
	if err != nil {
		return netip.Addr{}, err
	}
	return AddrAt(new, offset), nil
}

// Overlaps reports whether two subnets share any address
func Overlaps(a, b netip.Prefix) bool {
	return a.Overlaps(b)
}

// FreeBlocks enumerates /prefixLen blocks carved out of pool in ascending
// address order, skips any block overlapping an exclude entry, and returns
// the first count found
func FreeBlocks(pool netip.Prefix, prefixLen int, exclude []netip.Prefix, count int) ([]netip.Prefix, error) {
	if prefixLen < pool.Bits() || prefixLen > 32 {
		return nil, fmt.Errorf("%w: cannot carve /%d blocks from %s", ErrInsufficientSpace, prefixLen, pool)
	}

	step := uint32(1) << (32 - prefixLen)
	base := addrToUint32(pool.Masked().Addr())
	total := AddrCount(pool) / step

	free := make([]netip.Prefix, 0, count)
	for i := uint32(0); i < total && len(free) < count; i++ {
		cand := netip.PrefixFrom(uint32ToAddr(base+i*step), prefixLen)
		overlaps := false
		for _, u := range exclude {
			if cand.Overlaps(u) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			free = append(free, cand)
		}
	}

	if len(free) < count {
		return nil, fmt.Errorf("%w: found %d free /%d blocks in %s, need %d",
			ErrInsufficientSpace, len(free), prefixLen, pool, count)
	}
	return free, nil
}
