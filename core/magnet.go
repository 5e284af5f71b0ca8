package core

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// RetrievalHandle is the decoded form of a magnet URL: everything needed to
// retrieve and reconstruct a CBL's payload.
type RetrievalHandle struct {
	PrimaryCBL         Checksum
	SiblingCBLs        []Checksum
	ParityBlocks       []Checksum
	IsEncrypted        bool
	FileName           string
	OriginalDataLength uint64
}

// BuildMagnetURL encodes a retrieval handle as a magnet URL, per §3/§6.
func BuildMagnetURL(h RetrievalHandle) string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:cbl:")
	b.WriteString(h.PrimaryCBL.Hex())

	for i, sib := range h.SiblingCBLs {
		fmt.Fprintf(&b, "&xt.%d=urn:cbl:%s", i+1, sib.Hex())
	}
	for i, p := range h.ParityBlocks {
		fmt.Fprintf(&b, "&pa.%d=%s", i, p.Hex())
	}
	if h.IsEncrypted {
		b.WriteString("&e=1")
	}
	if h.FileName != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(h.FileName))
	}
	if h.OriginalDataLength > 0 {
		fmt.Fprintf(&b, "&xl=%d", h.OriginalDataLength)
	}
	return b.String()
}

// ParseMagnetURL is the inverse of BuildMagnetURL. Parameter order is not
// significant; any permutation is accepted.
func ParseMagnetURL(raw string) (RetrievalHandle, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return RetrievalHandle{}, NewError(ErrInvalidBlockType, "magnet", err)
	}
	if u.Scheme != "magnet" {
		return RetrievalHandle{}, NewError(ErrInvalidBlockType, "scheme", nil)
	}
	q := u.Query()

	var h RetrievalHandle
	siblings := map[int]Checksum{}
	parity := map[int]Checksum{}

	for key, values := range q {
		if len(values) == 0 {
			continue
		}
		v := values[0]
		switch {
		case key == "xt":
			c, err := parseCBLURN(v)
			if err != nil {
				return RetrievalHandle{}, err
			}
			h.PrimaryCBL = c
		case strings.HasPrefix(key, "xt."):
			idx, err := strconv.Atoi(strings.TrimPrefix(key, "xt."))
			if err != nil {
				return RetrievalHandle{}, NewError(ErrInvalidBlockType, "xt.N", err)
			}
			c, err := parseCBLURN(v)
			if err != nil {
				return RetrievalHandle{}, err
			}
			siblings[idx] = c
		case strings.HasPrefix(key, "pa."):
			idx, err := strconv.Atoi(strings.TrimPrefix(key, "pa."))
			if err != nil {
				return RetrievalHandle{}, NewError(ErrInvalidBlockType, "pa.N", err)
			}
			c, err := ChecksumFromHex(v)
			if err != nil {
				return RetrievalHandle{}, err
			}
			parity[idx] = c
		case key == "e":
			h.IsEncrypted = v == "1"
		case key == "dn":
			h.FileName = v
		case key == "xl":
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return RetrievalHandle{}, NewError(ErrInvalidBlockType, "xl", err)
			}
			h.OriginalDataLength = n
		}
	}

	h.SiblingCBLs = orderedByIndex(siblings)
	h.ParityBlocks = orderedByIndex(parity)
	return h, nil
}

func parseCBLURN(v string) (Checksum, error) {
	const prefix = "urn:cbl:"
	if !strings.HasPrefix(v, prefix) {
		return Checksum{}, NewError(ErrInvalidBlockType, "urn", nil)
	}
	return ChecksumFromHex(strings.TrimPrefix(v, prefix))
}

func orderedByIndex(m map[int]Checksum) []Checksum {
	if len(m) == 0 {
		return nil
	}
	idxs := make([]int, 0, len(m))
	for i := range m {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	out := make([]Checksum, len(idxs))
	for pos, i := range idxs {
		out[pos] = m[i]
	}
	return out
}
